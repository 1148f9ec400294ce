// Package trader wires the client state together: credentials, session,
// the platform API, the price feed, the market store, the wallet and the
// simulated lane. A Desk is the one application-state object the CLI and
// the status server talk to.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/credentials"
	"github.com/gregtusar/perpdesk/pkg/feed"
	"github.com/gregtusar/perpdesk/pkg/market"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/gregtusar/perpdesk/pkg/platform"
	"github.com/gregtusar/perpdesk/pkg/session"
	"github.com/gregtusar/perpdesk/pkg/simulator"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/gregtusar/perpdesk/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultCommissionRate is charged on a pending withdrawal before it is
// released.
const DefaultCommissionRate = 0.15

var (
	ErrNotAuthenticated  = errors.New("not logged in")
	ErrNoPrice           = errors.New("no price for the selected pair yet")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrNoPendingWithdraw = errors.New("no pending withdrawal")
)

type Config struct {
	API            platform.Config
	Feed           feed.Config
	Simulator      simulator.Config
	PollInterval   time.Duration
	CommissionRate float64
}

type Desk struct {
	cfg     Config
	kv      storage.KV
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *metrics.Registry

	Credentials *credentials.Store
	Session     *session.Manager
	API         *platform.Client
	Feed        *feed.Client
	Market      *market.Store
	Balance     *wallet.Balance
	Simulator   *simulator.Simulator

	mu          sync.RWMutex
	active      []models.Position
	orders      []models.LimitOrder
	lastSync    time.Time
	poll        clock.Timer
	unsubscribe func()
}

// New builds a desk on kv. Nothing touches the network until Start or one
// of the account calls.
func New(cfg Config, kv storage.KV, clk clock.Clock, logger *logrus.Logger, m *metrics.Registry) *Desk {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.CommissionRate <= 0 {
		cfg.CommissionRate = DefaultCommissionRate
	}

	balance := wallet.New(kv, logger)
	if m != nil {
		m.Balance.Set(balance.Float())
		balance.OnChange(func(v decimal.Decimal) { m.Balance.Set(v.InexactFloat64()) })
	}

	creds := credentials.NewStore(kv, logger)
	api := platform.NewClient(cfg.API, creds, clk, logger, m)
	sim := simulator.New(cfg.Simulator, clk, balance, kv, api, logger, m)

	sess := session.NewManager(creds, api, clk, logger)
	sess.OnReset(api.ResetCache)

	return &Desk{
		cfg:         cfg,
		kv:          kv,
		clock:       clk,
		logger:      logger,
		metrics:     m,
		Credentials: creds,
		Session:     sess,
		API:         api,
		Feed:        feed.NewClient(cfg.Feed, logger, m),
		Market:      market.NewStore(kv, sim, clk, logger),
		Balance:     balance,
		Simulator:   sim,
	}
}

// Start restores the simulated lane, connects the price feed and begins
// polling the remote positions. A feed failure is logged, not returned.
func (d *Desk) Start(ctx context.Context) error {
	d.logger.Info("Starting desk")

	if err := d.Simulator.Restore(); err != nil {
		return fmt.Errorf("restore simulator: %w", err)
	}

	d.mu.Lock()
	if d.unsubscribe == nil {
		d.unsubscribe = d.Feed.Subscribe(d.Market.RecordTick)
	}
	d.mu.Unlock()

	if err := d.Feed.Connect(ctx); err != nil {
		d.logger.WithError(err).Error("Price feed unavailable")
	}
	d.Simulator.Start(d.Market)

	if d.Session.CheckAndRefresh(ctx) {
		if err := d.SyncBalance(ctx); err != nil {
			d.logger.WithError(err).Warn("Initial balance sync failed")
		}
		d.RefreshRemote(ctx)
	}

	d.mu.Lock()
	if d.poll == nil {
		d.poll = clock.Every(d.clock, d.cfg.PollInterval, func() { d.RefreshRemote(ctx) })
	}
	d.mu.Unlock()
	return nil
}

func (d *Desk) Stop() {
	d.logger.Info("Stopping desk")

	d.mu.Lock()
	if d.poll != nil {
		d.poll.Stop()
		d.poll = nil
	}
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	d.mu.Unlock()

	d.Simulator.Stop()
	d.Feed.Disconnect()
}

// RefreshRemote refetches active positions and limit orders. It is a no-op
// while logged out.
func (d *Desk) RefreshRemote(ctx context.Context) {
	if !d.Session.IsAuthenticated() {
		return
	}

	active, err := d.API.ActivePositions(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to refresh active positions")
	} else {
		d.mu.Lock()
		d.active = active
		d.mu.Unlock()
	}

	orders, err := d.API.LimitOrders(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to refresh limit orders")
		return
	}
	d.mu.Lock()
	d.orders = orders
	d.lastSync = d.clock.Now()
	d.mu.Unlock()
}

func (d *Desk) Login(ctx context.Context, email, password string) error {
	tokens, err := d.API.Login(ctx, models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	return d.afterAuth(ctx, tokens)
}

func (d *Desk) Register(ctx context.Context, name, email, password string) error {
	tokens, err := d.API.SignUp(ctx, models.SignUpRequest{Name: name, Email: email, Password: password})
	if err != nil {
		return err
	}
	return d.afterAuth(ctx, tokens)
}

func (d *Desk) afterAuth(ctx context.Context, tokens *models.TokenPair) error {
	if err := d.Session.Login(*tokens); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := d.SyncBalance(ctx); err != nil {
		d.logger.WithError(err).Warn("Balance sync after login failed")
	}
	return nil
}

// Logout drops the session and every per-account key. The trading limit
// is lifted so the next account starts fresh.
func (d *Desk) Logout() {
	d.Session.Logout()
	d.Simulator.ResetLimit()
	d.Balance.Reset()
	if err := d.kv.Delete(storage.KeyPositionType, storage.KeySelectedPair, storage.KeyBalanceUSD, storage.KeyPendingWithdraw); err != nil {
		d.logger.WithError(err).Warn("Failed to clear account state")
	}

	d.mu.Lock()
	d.active = nil
	d.orders = nil
	d.mu.Unlock()
	d.logger.Info("Logged out")
}

// SyncBalance adopts the server balance.
func (d *Desk) SyncBalance(ctx context.Context) error {
	resp, err := d.API.GetBalance(ctx)
	if err != nil {
		return err
	}
	d.Balance.Set(decimal.NewFromFloat(resp.Balance))
	return nil
}

// OpenSimulated opens a simulated position on the selected pair at its
// live price.
func (d *Desk) OpenSimulated(kind models.PositionKind, margin float64, leverage int) (*models.SimulatedPosition, error) {
	symbol := d.Market.Selected()
	sample, ok := d.Market.LivePrice(symbol)
	if !ok {
		return nil, ErrNoPrice
	}
	return d.Simulator.OpenPosition(kind, symbol, sample.Price, margin, leverage)
}

// PlaceOrder submits the order form for the selected pair: a market
// position or, when the form says so, a limit order. The form is reset
// on success.
func (d *Desk) PlaceOrder(ctx context.Context, side models.PositionSide) (any, error) {
	if !d.Session.IsAuthenticated() && !d.Session.CheckAndRefresh(ctx) {
		return nil, ErrNotAuthenticated
	}

	symbol := d.Market.Selected()
	form := d.Market.Form()
	sample, ok := d.Market.LivePrice(symbol)
	if !ok {
		return nil, ErrNoPrice
	}

	var result any
	var err error
	if form.OrderType == models.OrderTypeLimit {
		result, err = d.API.OpenLimitOrder(ctx, models.LimitOrderRequest{
			Symbol:     symbol,
			Type:       side,
			Side:       side,
			LimitPrice: form.LimitPrice,
			Amount:     form.Amount,
			Margin:     form.Amount / float64(form.Leverage),
			Leverage:   form.Leverage,
		})
	} else {
		result, err = d.API.OpenPosition(ctx, models.OpenPositionRequest{
			Symbol:           symbol,
			Type:             side,
			Amount:           form.Amount,
			Leverage:         form.Leverage,
			OrderType:        models.OrderTypeCodeMarket,
			CurrentPrice:     sample.Price,
			LiquidationPrice: market.LiquidationPrice(side, sample.Price, form.Leverage),
		})
	}
	if err != nil {
		return nil, err
	}

	d.Market.ResetForm()
	d.RefreshRemote(ctx)
	if err := d.SyncBalance(ctx); err != nil {
		d.logger.WithError(err).Warn("Balance sync after order failed")
	}
	return result, nil
}

// ClosePosition closes a remote position at the live price of its symbol.
func (d *Desk) ClosePosition(ctx context.Context, id int64) (*models.Position, error) {
	symbol := ""
	d.mu.RLock()
	for _, p := range d.active {
		if p.ID == id {
			symbol = p.Symbol
			break
		}
	}
	d.mu.RUnlock()
	if symbol == "" {
		symbol = d.Market.Selected()
	}

	req := models.ClosePositionRequest{PositionID: id}
	if sample, ok := d.Market.LivePrice(symbol); ok {
		req.CurrentPrice = sample.Price
	}

	pos, err := d.API.ClosePosition(ctx, req)
	if err != nil {
		return nil, err
	}
	d.RefreshRemote(ctx)
	if err := d.SyncBalance(ctx); err != nil {
		d.logger.WithError(err).Warn("Balance sync after close failed")
	}
	return pos, nil
}

// RequestWithdraw submits a withdrawal and records it as pending until the
// commission is paid.
func (d *Desk) RequestWithdraw(ctx context.Context, req models.WithdrawRequest) (*models.PendingWithdrawal, float64, error) {
	if err := platform.ValidateWithdraw(req); err != nil {
		return nil, 0, err
	}
	if req.Amount > d.Balance.Float() {
		return nil, 0, ErrInsufficientFunds
	}

	if _, err := d.API.Withdraw(ctx, req); err != nil {
		return nil, 0, err
	}

	pending := &models.PendingWithdrawal{Amount: req.Amount, CardNumber: req.CardNumber, FullName: req.FullName}
	if err := storage.SetJSON(d.kv, storage.KeyPendingWithdraw, pending); err != nil {
		d.logger.WithError(err).Warn("Failed to persist pending withdrawal")
	}
	commission := pending.Commission(d.cfg.CommissionRate)
	d.logger.WithFields(logrus.Fields{
		"amount":     req.Amount,
		"commission": commission,
	}).Info("Withdrawal pending commission")
	return pending, commission, nil
}

// PendingWithdraw returns the recorded withdrawal, if any.
func (d *Desk) PendingWithdraw() (*models.PendingWithdrawal, error) {
	var pending models.PendingWithdrawal
	ok, err := storage.GetJSON(d.kv, storage.KeyPendingWithdraw, &pending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPendingWithdraw
	}
	return &pending, nil
}

// PayCommission pays the commission on the pending withdrawal and clears
// the record.
func (d *Desk) PayCommission(ctx context.Context, invoice *models.Receipt) (*models.PaymentResult, error) {
	pending, err := d.PendingWithdraw()
	if err != nil {
		return nil, err
	}

	res, err := d.API.PayCommission(ctx, models.CommissionRequest{
		Amount:     pending.Commission(d.cfg.CommissionRate),
		CardNumber: pending.CardNumber,
		FullName:   pending.FullName,
		Invoice:    invoice,
	})
	if err != nil {
		return nil, err
	}
	if err := d.kv.Delete(storage.KeyPendingWithdraw); err != nil {
		d.logger.WithError(err).Warn("Failed to clear pending withdrawal")
	}
	return res, nil
}

// ActivePositions returns the last fetched remote positions.
func (d *Desk) ActivePositions() []models.Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.Position(nil), d.active...)
}

func (d *Desk) LimitOrders() []models.LimitOrder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.LimitOrder(nil), d.orders...)
}
