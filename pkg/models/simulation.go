package models

import (
	"time"
)

// PositionKind selects the simulated trading lane.
type PositionKind string

const (
	// StandardMode is the long lane, offered to balances below the high-margin threshold.
	StandardMode PositionKind = "ai"
	// HighMarginMode is the short lane, offered to balances at or above the threshold.
	HighMarginMode PositionKind = "high_margin"
)

func (k PositionKind) Valid() bool {
	return k == StandardMode || k == HighMarginMode
}

// Direction is +1 for StandardMode and -1 for HighMarginMode.
func (k PositionKind) Direction() int {
	if k == HighMarginMode {
		return -1
	}
	return 1
}

// SimulatedPosition is a client-local pseudo trade with a fixed lifetime.
// It never reaches the exchange.
type SimulatedPosition struct {
	ID              int64        `json:"id"`
	Kind            PositionKind `json:"type"`
	Symbol          string       `json:"pair"`
	EntryPrice      float64      `json:"price"`
	MarginAmount    float64      `json:"margin"`
	Leverage        int          `json:"leverage"`
	PositionSize    float64      `json:"positionSize"`
	OpenedAtMillis  int64        `json:"time"`
	ExpiresAtMillis int64        `json:"expiresAt"`
}

func (p *SimulatedPosition) ExpiresAt() time.Time {
	return time.UnixMilli(p.ExpiresAtMillis)
}

// Remaining returns the lifetime left at now, never negative.
func (p *SimulatedPosition) Remaining(now time.Time) time.Duration {
	d := p.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
