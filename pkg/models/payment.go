package models

import (
	"io"
)

type BalanceResponse struct {
	Balance float64 `json:"balance"`
}

// BalanceUpdate is the reply to update_balance. Balance is nil when the
// server omits it.
type BalanceUpdate struct {
	Balance *float64 `json:"balance"`
}

type UpdateBalanceRequest struct {
	AmountChange float64 `json:"amount_change"`
}

type CardNumberResponse struct {
	CardNumber     string `json:"card_number"`
	CardHolderName string `json:"card_holder_name"`
}

type CardInfo struct {
	CardNumber     string `json:"cardNumber"`
	CardHolderName string `json:"cardHolderName"`
}

// Receipt is an uploaded file attached to a multipart payment request.
type Receipt struct {
	FileName string
	Reader   io.Reader
}

type DepositRequest struct {
	Amount     float64
	CardNumber string
	Provider   string
	Receipt    *Receipt
}

type WithdrawRequest struct {
	Amount     float64 `json:"amount"`
	CardNumber string  `json:"cardNumber"`
	FullName   string  `json:"fullName"`
}

type CommissionRequest struct {
	Amount     float64
	CardNumber string
	FullName   string
	Invoice    *Receipt
}

// PendingWithdrawal is persisted between the withdraw request and the
// commission payment.
type PendingWithdrawal struct {
	Amount     float64 `json:"amount"`
	CardNumber string  `json:"cardNumber"`
	FullName   string  `json:"fullName"`
}

// Commission returns the fee owed before a withdrawal is released.
func (p PendingWithdrawal) Commission(rate float64) float64 {
	return p.Amount * rate
}

// PaymentResult is the loosely shaped acknowledgement of payment endpoints.
type PaymentResult struct {
	ID      int64   `json:"id,omitempty"`
	Status  string  `json:"status,omitempty"`
	Message string  `json:"message,omitempty"`
	Amount  float64 `json:"amount,omitempty"`
}
