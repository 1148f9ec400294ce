package platform

import (
	"context"
	"net/http"

	"github.com/gregtusar/perpdesk/pkg/models"
)

func (c *Client) GetBalance(ctx context.Context) (*models.BalanceResponse, error) {
	var out models.BalanceResponse
	if err := c.query(ctx, "user.get_balance", "/api/user/get_balance", nil, c.cfg.DefaultTTL, &out, TagBalance); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBalance applies a signed change to the remote balance. The reply
// may or may not carry the new balance.
func (c *Client) UpdateBalance(ctx context.Context, amountChange float64) (*models.BalanceUpdate, error) {
	var out models.BalanceUpdate
	body := models.UpdateBalanceRequest{AmountChange: amountChange}
	if err := c.send(ctx, "user.update_balance", http.MethodPost, "/api/user/update_balance", body, &out); err != nil {
		return nil, err
	}
	c.Invalidate(TagBalance)
	return &out, nil
}

func (c *Client) CardNumber(ctx context.Context) (*models.CardNumberResponse, error) {
	var out models.CardNumberResponse
	if err := c.send(ctx, "user.card_number", http.MethodGet, "/api/user/card_number", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
