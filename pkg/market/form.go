package market

import (
	"fmt"
	"strings"

	"github.com/gregtusar/perpdesk/pkg/models"
)

const (
	MinLeverage     = 1
	MaxLeverage     = 125
	DefaultLeverage = 10
)

// LeverageOptions are the quick-pick leverage values.
var LeverageOptions = []int{1, 2, 5, 10, 25, 50, 75, 100, 125}

// LeverageUsage describes the accepted leverage range and quick picks.
func LeverageUsage() string {
	picks := make([]string, len(LeverageOptions))
	for i, v := range LeverageOptions {
		picks[i] = fmt.Sprintf("%dx", v)
	}
	return fmt.Sprintf("leverage %d-%d (common: %s)", MinLeverage, MaxLeverage, strings.Join(picks, ", "))
}

// OrderForm is the order entry state.
type OrderForm struct {
	Leverage   int              `json:"leverage"`
	Amount     float64          `json:"amount"`
	OrderType  models.OrderType `json:"orderType"`
	LimitPrice float64          `json:"limitPrice"`
}

func DefaultOrderForm() OrderForm {
	return OrderForm{Leverage: DefaultLeverage, OrderType: models.OrderTypeMarket}
}

func ClampLeverage(v int) int {
	if v < MinLeverage {
		return MinLeverage
	}
	if v > MaxLeverage {
		return MaxLeverage
	}
	return v
}

func (s *Store) Form() OrderForm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.form
}

// SetLeverage clamps v into [MinLeverage, MaxLeverage] and returns the
// stored value.
func (s *Store) SetLeverage(v int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.Leverage = ClampLeverage(v)
	return s.form.Leverage
}

func (s *Store) SetAmount(v float64) {
	s.mu.Lock()
	s.form.Amount = v
	s.mu.Unlock()
}

func (s *Store) SetOrderType(t models.OrderType) {
	s.mu.Lock()
	s.form.OrderType = t
	s.mu.Unlock()
}

func (s *Store) SetLimitPrice(v float64) {
	s.mu.Lock()
	s.form.LimitPrice = v
	s.mu.Unlock()
}

// ResetForm clears amount and limit price and returns to market orders.
// Leverage is kept.
func (s *Store) ResetForm() {
	s.mu.Lock()
	s.form.Amount = 0
	s.form.LimitPrice = 0
	s.form.OrderType = models.OrderTypeMarket
	s.mu.Unlock()
}

// LiquidationPrice estimates where a position opened at entry with the
// given leverage is liquidated.
func LiquidationPrice(side models.PositionSide, entry float64, leverage int) float64 {
	if entry == 0 || leverage == 0 {
		return 0
	}
	ratio := 1 / float64(leverage)
	if side == models.SideShort {
		return entry * (1 + ratio)
	}
	return entry * (1 - ratio)
}
