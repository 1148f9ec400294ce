package models

import (
	"time"
)

// PositionSide is the wire encoding of a remote position direction.
type PositionSide int

const (
	SideLong  PositionSide = 1
	SideShort PositionSide = 2
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// ParseSide accepts "long"/"short" (or "buy"/"sell").
func ParseSide(s string) (PositionSide, bool) {
	switch s {
	case "long", "Long", "buy", "1":
		return SideLong, true
	case "short", "Short", "sell", "2":
		return SideShort, true
	}
	return 0, false
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderTypeCode is the numeric order type sent with market positions.
const OrderTypeCodeMarket = 1

type OpenPositionRequest struct {
	Symbol           string       `json:"symbol"`
	Type             PositionSide `json:"type"`
	Amount           float64      `json:"amount"`
	Leverage         int          `json:"leverage"`
	OrderType        int          `json:"orderType"`
	CurrentPrice     float64      `json:"currentPrice"`
	LimitPrice       *float64     `json:"limitPrice"`
	StopLoss         *float64     `json:"stopLoss"`
	TakeProfit       *float64     `json:"takeProfit"`
	LiquidationPrice float64      `json:"liquidationPrice"`
}

type ClosePositionRequest struct {
	PositionID   int64   `json:"PositionId"`
	CurrentPrice float64 `json:"CurrentPrice"`
}

type LimitOrderRequest struct {
	Symbol     string       `json:"symbol"`
	Type       PositionSide `json:"type"`
	Side       PositionSide `json:"side"`
	LimitPrice float64      `json:"limitPrice"`
	Amount     float64      `json:"amount"`
	Margin     float64      `json:"margin"`
	Leverage   int          `json:"leverage"`
	StopLoss   *float64     `json:"stopLoss"`
	TakeProfit *float64     `json:"takeProfit"`
}

// Position is a remote, exchange-side position.
type Position struct {
	ID                   int64        `json:"id"`
	Symbol               string       `json:"symbol"`
	Type                 PositionSide `json:"type"`
	Amount               float64      `json:"amount"`
	Margin               float64      `json:"margin"`
	Leverage             int          `json:"leverage"`
	EntryPrice           float64      `json:"entryPrice"`
	CurrentPrice         float64      `json:"currentPrice"`
	ExitPrice            float64      `json:"exitPrice,omitempty"`
	StopLoss             *float64     `json:"stopLoss,omitempty"`
	TakeProfit           *float64     `json:"takeProfit,omitempty"`
	ProfitLoss           float64      `json:"profitLoss"`
	ProfitLossPercentage float64      `json:"profitLossPercentage"`
	ROI                  float64      `json:"roi"`
	Status               string       `json:"status"`
	CloseReason          string       `json:"closeReason,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	ClosedAt             *time.Time   `json:"closedAt,omitempty"`
}

// UnrealizedPnL marks the position against price using qty = amount / entry.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	qty := p.Amount / p.EntryPrice
	if p.Type == SideShort {
		return (p.EntryPrice - price) * qty
	}
	return (price - p.EntryPrice) * qty
}

type LimitOrder struct {
	ID         int64        `json:"id"`
	Symbol     string       `json:"symbol"`
	Type       PositionSide `json:"type"`
	Side       PositionSide `json:"side"`
	LimitPrice float64      `json:"limitPrice"`
	Amount     float64      `json:"amount"`
	Leverage   int          `json:"leverage"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
}
