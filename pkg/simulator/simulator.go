// Package simulator runs the client-local position lane: one pseudo
// position at a time, periodic PnL accrual into the balance and a timed
// auto-close that sends a fixed settlement to the platform.
//
// The accrual and the settlement do not agree with each other. Accrual adds
// the change in |PnL| on every tick, settlement sends a constant that
// ignores what was accrued. Both are kept as observed.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/gregtusar/perpdesk/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Lifetime            time.Duration
	TickInterval        time.Duration
	MinBalance          decimal.Decimal
	HighMarginThreshold decimal.Decimal
	SettlementAmount    decimal.Decimal
	ConversionRate      decimal.Decimal
	Epsilon             decimal.Decimal
	SettleTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Lifetime:            180 * time.Minute,
		TickInterval:        time.Second,
		MinBalance:          decimal.NewFromInt(10_000),
		HighMarginThreshold: decimal.NewFromInt(1_000_000),
		SettlementAmount:    decimal.NewFromInt(11_537_890),
		ConversionRate:      decimal.NewFromInt(13_800),
		Epsilon:             decimal.RequireFromString("0.001"),
		SettleTimeout:       30 * time.Second,
	}
}

// Settler reports a realized balance change to the platform.
type Settler interface {
	UpdateBalance(ctx context.Context, amountChange float64) (*models.BalanceUpdate, error)
}

// PriceSource supplies the latest price per symbol.
type PriceSource interface {
	Prices() map[string]float64
}

type Simulator struct {
	cfg     Config
	clock   clock.Clock
	balance *wallet.Balance
	kv      storage.KV
	settler Settler
	logger  *logrus.Logger
	metrics *metrics.Registry

	mu           sync.Mutex
	open         *models.SimulatedPosition
	prevPnL      decimal.Decimal
	limitReached bool
	lastID       int64
	expiry       clock.Timer
	loop         clock.Timer
}

func New(cfg Config, clk clock.Clock, balance *wallet.Balance, kv storage.KV, settler Settler, logger *logrus.Logger, m *metrics.Registry) *Simulator {
	return &Simulator{
		cfg:     cfg,
		clock:   clk,
		balance: balance,
		kv:      kv,
		settler: settler,
		logger:  logger,
		metrics: m,
	}
}

// OpenPosition validates the request against the balance and the lane
// rules, debits the margin and arms the expiry timer. Rule violations
// return a *Rejection and leave the balance untouched.
func (s *Simulator) OpenPosition(kind models.PositionKind, symbol string, entryPrice, margin float64, leverage int) (*models.SimulatedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(kind, entryPrice, margin, leverage); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id

	pos := &models.SimulatedPosition{
		ID:              id,
		Kind:            kind,
		Symbol:          symbol,
		EntryPrice:      entryPrice,
		MarginAmount:    margin,
		Leverage:        leverage,
		PositionSize:    margin * float64(leverage),
		OpenedAtMillis:  now.UnixMilli(),
		ExpiresAtMillis: now.Add(s.cfg.Lifetime).UnixMilli(),
	}

	s.balance.Debit(decimal.NewFromFloat(margin))
	s.open = pos
	s.prevPnL = decimal.Zero
	s.persistLocked()
	s.armLocked(pos)

	if s.metrics != nil {
		s.metrics.SimulatedPositions.WithLabelValues(string(kind)).Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"kind":        kind,
		"symbol":      symbol,
		"entry_price": entryPrice,
		"margin":      margin,
		"leverage":    leverage,
	}).Info("Opened simulated position")

	return s.copyOf(pos), nil
}

func (s *Simulator) checkOpen(kind models.PositionKind, entryPrice, margin float64, leverage int) error {
	if !kind.Valid() {
		return reject(ReasonInvalidKind, "unknown position kind %q", kind)
	}
	if s.limitReached {
		return reject(ReasonLimitReached, "trading limit reached: this account is not professional")
	}

	bal := s.balance.Value()
	switch kind {
	case models.StandardMode:
		if bal.GreaterThanOrEqual(s.cfg.HighMarginThreshold) {
			return reject(ReasonStandardOnly, "AI trading is only available to standard traders (deposit below %s)", s.cfg.HighMarginThreshold)
		}
	case models.HighMarginMode:
		if bal.LessThan(s.cfg.HighMarginThreshold) {
			return reject(ReasonHighMarginMinimum, "high-margin trading requires a minimum deposit of %s", s.cfg.HighMarginThreshold)
		}
	}
	if bal.LessThan(s.cfg.MinBalance) {
		return reject(ReasonMinimumBalance, "minimum deposit for trading is %s", s.cfg.MinBalance)
	}
	if s.open != nil {
		return reject(ReasonPositionOpen, "only one active position is allowed at a time")
	}
	if !bal.IsPositive() {
		return reject(ReasonInsufficientFunds, "insufficient funds to open a position: %s", bal)
	}

	if entryPrice <= 0 {
		return reject(ReasonInvalidPrice, "no live price for the selected pair")
	}
	if margin <= 0 {
		return reject(ReasonInvalidMargin, "margin must be positive")
	}
	if leverage < 1 {
		return reject(ReasonInvalidLeverage, "leverage must be at least 1")
	}
	return nil
}

// PnL is the unrealized profit of pos at price:
// direction * (price - entry) * (size / entry).
func PnL(pos *models.SimulatedPosition, price float64) decimal.Decimal {
	entry := decimal.NewFromFloat(pos.EntryPrice)
	if entry.IsZero() {
		return decimal.Zero
	}
	qty := decimal.NewFromFloat(pos.PositionSize).Div(entry)
	diff := decimal.NewFromFloat(price).Sub(entry)
	return diff.Mul(qty).Mul(decimal.NewFromInt(int64(pos.Kind.Direction())))
}

// ROI is the leveraged price move of pos at price, in percent.
func ROI(pos *models.SimulatedPosition, price float64) decimal.Decimal {
	entry := decimal.NewFromFloat(pos.EntryPrice)
	if entry.IsZero() {
		return decimal.Zero
	}
	diff := decimal.NewFromFloat(price).Sub(entry).Mul(decimal.NewFromInt(int64(pos.Kind.Direction())))
	return diff.Div(entry).Mul(decimal.NewFromInt(int64(pos.Leverage))).Mul(decimal.NewFromInt(100))
}

// Tick accrues the change in PnL magnitude for the open position into the
// balance. The delta is |pnl| - |previous pnl| on cent-rounded values; it is
// converted at the configured rate and applied only when it exceeds epsilon.
func (s *Simulator) Tick(prices map[string]float64) {
	s.mu.Lock()
	pos := s.open
	if pos == nil {
		s.mu.Unlock()
		return
	}
	price, ok := prices[pos.Symbol]
	if !ok || price <= 0 {
		s.mu.Unlock()
		return
	}

	current := PnL(pos, price).Round(2)
	delta := current.Abs().Sub(s.prevPnL.Abs())
	s.prevPnL = current
	s.mu.Unlock()

	if delta.Round(2).Abs().LessThanOrEqual(s.cfg.Epsilon) {
		return
	}
	converted := delta.Mul(s.cfg.ConversionRate).Round(0)
	v := s.balance.Add(converted)
	if err := s.kv.Set(storage.KeyBalanceUSD, v.Div(s.cfg.ConversionRate).StringFixed(2)); err != nil {
		s.logger.WithError(err).Warn("Failed to cache USD balance")
	}

	s.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"pnl":         current.String(),
		"change":      converted.String(),
	}).Debug("Accrued simulated PnL")
}

// AutoClose removes the position, reports the fixed settlement amount and
// locks further trading. It is called by the expiry timer. Settlement is
// fire-and-forget: a failed call is logged and the removal is kept.
func (s *Simulator) AutoClose(id int64) bool {
	s.mu.Lock()
	if s.open == nil || s.open.ID != id {
		s.mu.Unlock()
		return false
	}
	pos := s.open
	s.open = nil
	s.prevPnL = decimal.Zero
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.limitReached = true
	s.mu.Unlock()

	if err := s.kv.Delete(storage.KeyTradingPositions, storage.KeyPositionType, storage.KeyBalanceUSD); err != nil {
		s.logger.WithError(err).Warn("Failed to clear simulated position state")
	}
	if err := s.kv.Set(storage.KeyHasTraded, "true"); err != nil {
		s.logger.WithError(err).Warn("Failed to persist trading limit flag")
	}

	s.settle(pos)
	return true
}

func (s *Simulator) settle(pos *models.SimulatedPosition) {
	logger := s.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"amount":      s.cfg.SettlementAmount.String(),
	})
	if s.settler == nil {
		logger.Warn("No settler configured, settlement skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SettleTimeout)
	defer cancel()

	resp, err := s.settler.UpdateBalance(ctx, s.cfg.SettlementAmount.InexactFloat64())
	if err != nil {
		logger.WithError(err).Error("Failed to settle simulated position")
		if s.metrics != nil {
			s.metrics.Settlements.WithLabelValues("failed").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.Settlements.WithLabelValues("ok").Inc()
	}
	if resp != nil && resp.Balance != nil {
		s.balance.Set(decimal.NewFromFloat(*resp.Balance))
	}
	logger.Info("Simulated position closed")
}

// Restore reloads the limit flag and any persisted position. An expired
// position is closed immediately; a live one gets its timer back.
func (s *Simulator) Restore() error {
	flag, _, err := s.kv.Get(storage.KeyHasTraded)
	if err != nil {
		return fmt.Errorf("load trading limit flag: %w", err)
	}

	var saved []models.SimulatedPosition
	if _, err := storage.GetJSON(s.kv, storage.KeyTradingPositions, &saved); err != nil {
		s.logger.WithError(err).Warn("Discarding unreadable simulated positions")
		saved = nil
	}

	s.mu.Lock()
	s.limitReached = flag == "true"
	if len(saved) == 0 {
		s.mu.Unlock()
		return nil
	}
	pos := saved[0]
	s.open = &pos
	s.prevPnL = decimal.Zero
	if pos.ID > s.lastID {
		s.lastID = pos.ID
	}
	expired := !s.clock.Now().Before(pos.ExpiresAt())
	if !expired {
		s.armLocked(&pos)
	}
	s.mu.Unlock()

	if expired {
		s.AutoClose(pos.ID)
	}
	return nil
}

// Start runs Tick on the configured interval with prices from src.
func (s *Simulator) Start(src PriceSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil {
		return
	}
	s.loop = clock.Every(s.clock, s.cfg.TickInterval, func() {
		s.Tick(src.Prices())
	})
}

// Stop cancels the accrual loop and the expiry timer. The open position,
// if any, stays persisted.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

// ResetLimit clears the trading limit flag, as a logout does.
func (s *Simulator) ResetLimit() {
	s.mu.Lock()
	s.limitReached = false
	s.mu.Unlock()
	if err := s.kv.Delete(storage.KeyHasTraded); err != nil {
		s.logger.WithError(err).Warn("Failed to clear trading limit flag")
	}
}

func (s *Simulator) OpenPositionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return 0
	}
	return 1
}

// Open returns a copy of the open position, or nil.
func (s *Simulator) Open() *models.SimulatedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.open)
}

func (s *Simulator) LimitReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitReached
}

// Remaining is the lifetime left on the open position.
func (s *Simulator) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return 0
	}
	return s.open.Remaining(s.clock.Now())
}

func (s *Simulator) armLocked(pos *models.SimulatedPosition) {
	if s.expiry != nil {
		s.expiry.Stop()
	}
	id := pos.ID
	s.expiry = s.clock.AfterFunc(pos.Remaining(s.clock.Now()), func() {
		s.AutoClose(id)
	})
}

func (s *Simulator) persistLocked() {
	if s.open == nil {
		return
	}
	if err := storage.SetJSON(s.kv, storage.KeyTradingPositions, []models.SimulatedPosition{*s.open}); err != nil {
		s.logger.WithError(err).Error("Failed to persist simulated position")
	}
	if err := s.kv.Set(storage.KeyPositionType, string(s.open.Kind)); err != nil {
		s.logger.WithError(err).Warn("Failed to persist position kind")
	}
}

func (s *Simulator) copyOf(p *models.SimulatedPosition) *models.SimulatedPosition {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
