package platform

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gregtusar/perpdesk/pkg/models"
)

// MinWithdrawAmount is the smallest withdrawal the backend accepts.
const MinWithdrawAmount = 12_000_000

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Deposit uploads a deposit request with its payment receipt.
func (c *Client) Deposit(ctx context.Context, req models.DepositRequest) (*models.PaymentResult, error) {
	if req.Amount <= 0 {
		return nil, validationError("deposit amount must be positive")
	}
	if req.Receipt == nil || req.Receipt.Reader == nil {
		return nil, validationError("a payment receipt is required")
	}

	r := c.newRequest(ctx).
		SetMultipartFormData(map[string]string{
			"Amount":     formatAmount(req.Amount),
			"CardNumber": req.CardNumber,
			"Provider":   req.Provider,
		}).
		SetFileReader("receipt", req.Receipt.FileName, req.Receipt.Reader)

	raw, err := c.execute(ctx, "payments.deposit", r, http.MethodPost, "/api/Payments/deposit")
	if err != nil {
		return nil, err
	}
	c.Invalidate(TagBalance)

	var out models.PaymentResult
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Withdraw(ctx context.Context, req models.WithdrawRequest) (*models.PaymentResult, error) {
	if err := ValidateWithdraw(req); err != nil {
		return nil, err
	}
	var out models.PaymentResult
	if err := c.send(ctx, "payments.withdraw", http.MethodPost, "/api/Payments/withdraw", req, &out); err != nil {
		return nil, err
	}
	c.Invalidate(TagBalance)
	return &out, nil
}

// ValidateWithdraw applies the checks the backend expects before a
// withdrawal is submitted.
func ValidateWithdraw(req models.WithdrawRequest) error {
	if req.Amount < MinWithdrawAmount {
		return validationError("minimum withdrawal is %s", formatAmount(MinWithdrawAmount))
	}
	if strings.TrimSpace(req.CardNumber) == "" {
		return validationError("card number is required")
	}
	if strings.TrimSpace(req.FullName) == "" {
		return validationError("full name is required")
	}
	return nil
}

// PayCommission settles the withdrawal commission. The invoice file is
// optional.
func (c *Client) PayCommission(ctx context.Context, req models.CommissionRequest) (*models.PaymentResult, error) {
	if req.Amount <= 0 {
		return nil, validationError("commission amount must be positive")
	}

	r := c.newRequest(ctx).SetMultipartFormData(map[string]string{
		"amount":      formatAmount(req.Amount),
		"card_number": req.CardNumber,
		"full_name":   req.FullName,
	})
	if req.Invoice != nil && req.Invoice.Reader != nil {
		r.SetFileReader("invoice_file", req.Invoice.FileName, req.Invoice.Reader)
	}

	raw, err := c.execute(ctx, "payments.pay_commission", r, http.MethodPost, "/api/Payments/withdraw/pay-commission")
	if err != nil {
		return nil, err
	}
	c.Invalidate(TagBalance)

	var out models.PaymentResult
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PaymentsBalance(ctx context.Context) (*models.BalanceResponse, error) {
	var out models.BalanceResponse
	if err := c.query(ctx, "payments.balance", "/api/Payments/balance", nil, c.cfg.DefaultTTL, &out, TagBalance); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CardInfo(ctx context.Context) (*models.CardInfo, error) {
	var out models.CardInfo
	if err := c.send(ctx, "payments.card_info", http.MethodGet, "/api/Payments/card-info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
