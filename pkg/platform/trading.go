package platform

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gregtusar/perpdesk/pkg/models"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

func validSide(s models.PositionSide) bool {
	return s == models.SideLong || s == models.SideShort
}

func (c *Client) OpenPosition(ctx context.Context, req models.OpenPositionRequest) (*models.Position, error) {
	switch {
	case strings.TrimSpace(req.Symbol) == "":
		return nil, validationError("symbol is required")
	case !validSide(req.Type):
		return nil, validationError("position type must be long or short")
	case req.Amount <= 0:
		return nil, validationError("amount must be positive")
	case req.Leverage < 1:
		return nil, validationError("leverage must be at least 1")
	}

	var out models.Position
	if err := c.send(ctx, "trading.open_position", http.MethodPost, "/api/Trading/positions/open", req, &out); err != nil {
		return nil, err
	}
	c.Invalidate(TagActivePositions, TagBalance)
	return &out, nil
}

func (c *Client) ClosePosition(ctx context.Context, req models.ClosePositionRequest) (*models.Position, error) {
	if req.PositionID <= 0 {
		return nil, validationError("position id is required")
	}
	var out models.Position
	if err := c.send(ctx, "trading.close_position", http.MethodPost, "/api/Trading/positions/close", req, &out); err != nil {
		return nil, err
	}
	c.Invalidate(TagActivePositions, TagPosition, TagHistoryPositions, TagBalance)
	return &out, nil
}

func (c *Client) ActivePositions(ctx context.Context) ([]models.Position, error) {
	var out []models.Position
	err := c.query(ctx, "trading.active_positions", "/api/Trading/positions/active", nil,
		c.cfg.ActivePositionsTTL, &out, TagActivePositions)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Position(ctx context.Context, id int64) (*models.Position, error) {
	if id <= 0 {
		return nil, validationError("position id is required")
	}
	var out models.Position
	path := "/api/Trading/positions/" + strconv.FormatInt(id, 10)
	if err := c.query(ctx, "trading.position", path, nil, c.cfg.DefaultTTL, &out, TagPosition); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryPositions returns one page of closed positions. Non-positive page
// arguments fall back to page 1 of 20.
func (c *Client) HistoryPositions(ctx context.Context, page, pageSize int) ([]models.Position, error) {
	if page < 1 {
		page = DefaultPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	var out []models.Position
	err := c.query(ctx, "trading.history_positions", "/api/Trading/positions/history", params,
		c.cfg.HistoryPositionsTTL, &out, TagHistoryPositions)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenLimitOrder(ctx context.Context, req models.LimitOrderRequest) (*models.LimitOrder, error) {
	switch {
	case strings.TrimSpace(req.Symbol) == "":
		return nil, validationError("symbol is required")
	case !validSide(req.Type):
		return nil, validationError("order type must be long or short")
	case req.LimitPrice <= 0:
		return nil, validationError("limit price is required for limit orders")
	case req.Amount <= 0:
		return nil, validationError("amount must be positive")
	case req.Leverage < 1:
		return nil, validationError("leverage must be at least 1")
	}

	var out models.LimitOrder
	if err := c.send(ctx, "trading.open_limit_order", http.MethodPost, "/api/Trading/limitorder/open", req, &out); err != nil {
		return nil, err
	}
	c.Invalidate(TagLimitOrders, TagBalance)
	return &out, nil
}

func (c *Client) LimitOrders(ctx context.Context) ([]models.LimitOrder, error) {
	var out []models.LimitOrder
	err := c.query(ctx, "trading.limit_orders", "/api/Trading/limit_orders", nil,
		c.cfg.ActivePositionsTTL, &out, TagLimitOrders)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CancelLimitOrder(ctx context.Context, id int64) error {
	if id <= 0 {
		return validationError("order id is required")
	}
	path := "/api/Trading/cancel_limit_order/" + strconv.FormatInt(id, 10)
	if err := c.send(ctx, "trading.cancel_limit_order", http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.Invalidate(TagLimitOrders, TagBalance)
	return nil
}
