package simulator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/gregtusar/perpdesk/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 11, 1, 9, 30, 0, 0, time.UTC)

type fakeSettler struct {
	mu      sync.Mutex
	amounts []float64
	balance *float64
	err     error
}

func (f *fakeSettler) UpdateBalance(ctx context.Context, amountChange float64) (*models.BalanceUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amounts = append(f.amounts, amountChange)
	if f.err != nil {
		return nil, f.err
	}
	return &models.BalanceUpdate{Balance: f.balance}, nil
}

type fixture struct {
	sim     *Simulator
	clock   *clock.Virtual
	balance *wallet.Balance
	kv      *storage.Badger
	settler *fakeSettler
}

func newFixture(t *testing.T, startBalance int64) *fixture {
	t.Helper()
	kv, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bal := wallet.New(kv, logger)
	bal.Set(decimal.NewFromInt(startBalance))

	clk := clock.NewVirtual(epoch)
	settler := &fakeSettler{}
	sim := New(DefaultConfig(), clk, bal, kv, settler, logger, metrics.New())
	return &fixture{sim: sim, clock: clk, balance: bal, kv: kv, settler: settler}
}

func (f *fixture) balanceInt() int64 {
	return f.balance.Value().IntPart()
}

func TestOpenHighMarginScenario(t *testing.T) {
	f := newFixture(t, 20_000_000)

	pos, err := f.sim.OpenPosition(models.HighMarginMode, "BTCUSDT", 100_000, 5_000_000, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(15_000_000), f.balanceInt())
	assert.Equal(t, 50_000_000.0, pos.PositionSize)
	assert.Equal(t, epoch.UnixMilli(), pos.ID)
	assert.Equal(t, epoch.Add(180*time.Minute).UnixMilli(), pos.ExpiresAtMillis)
	assert.Equal(t, 1, f.sim.OpenPositionCount())
	assert.Equal(t, 180*time.Minute, f.sim.Remaining())
}

func TestOpenDebitsExactlyMargin(t *testing.T) {
	f := newFixture(t, 500_000)

	_, err := f.sim.OpenPosition(models.StandardMode, "ETHUSDT", 3891.23, 12_345.67, 3)
	require.NoError(t, err)

	want := decimal.NewFromInt(500_000).Sub(decimal.NewFromFloat(12_345.67))
	assert.True(t, f.balance.Value().Equal(want), "balance %s", f.balance.Value())
}

func TestSecondOpenRejectedWithoutBalanceChange(t *testing.T) {
	f := newFixture(t, 500_000)

	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)
	before := f.balance.Value()

	_, err = f.sim.OpenPosition(models.StandardMode, "ETHUSDT", 3_000, 10_000, 1)
	require.Error(t, err)
	assert.True(t, IsRejection(err, ReasonPositionOpen))
	assert.True(t, f.balance.Value().Equal(before))
	assert.Equal(t, 1, f.sim.OpenPositionCount())
}

func TestOpenRejections(t *testing.T) {
	tests := []struct {
		name     string
		balance  int64
		kind     models.PositionKind
		price    float64
		margin   float64
		leverage int
		reason   Reason
	}{
		{"standard lane closed to large balances", 1_000_000, models.StandardMode, 100, 10_000, 1, ReasonStandardOnly},
		{"high margin needs threshold", 999_999, models.HighMarginMode, 100, 10_000, 1, ReasonHighMarginMinimum},
		{"minimum balance", 9_999, models.StandardMode, 100, 1_000, 1, ReasonMinimumBalance},
		{"unknown kind", 50_000, models.PositionKind("grid"), 100, 1_000, 1, ReasonInvalidKind},
		{"no price", 50_000, models.StandardMode, 0, 1_000, 1, ReasonInvalidPrice},
		{"no margin", 50_000, models.StandardMode, 100, 0, 1, ReasonInvalidMargin},
		{"zero leverage", 50_000, models.StandardMode, 100, 1_000, 0, ReasonInvalidLeverage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.balance)
			_, err := f.sim.OpenPosition(tt.kind, "BTCUSDT", tt.price, tt.margin, tt.leverage)

			var rej *Rejection
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tt.reason, rej.Reason)
			assert.NotEmpty(t, rej.Error())
			assert.Equal(t, tt.balance, f.balanceInt())
			assert.Zero(t, f.sim.OpenPositionCount())
		})
	}
}

func TestPnLScenario(t *testing.T) {
	pos := &models.SimulatedPosition{
		Kind:         models.StandardMode,
		EntryPrice:   100_000,
		PositionSize: 50_000_000,
		Leverage:     10,
	}
	assert.True(t, PnL(pos, 101_000).Equal(decimal.NewFromInt(500_000)))
	assert.True(t, ROI(pos, 101_000).Equal(decimal.NewFromInt(10)))

	pos.Kind = models.HighMarginMode
	assert.True(t, PnL(pos, 101_000).Equal(decimal.NewFromInt(-500_000)))
	assert.True(t, PnL(pos, 99_000).Equal(decimal.NewFromInt(500_000)))
}

func TestTickAccruesChangeInMagnitude(t *testing.T) {
	f := newFixture(t, 500_000)
	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)
	require.Equal(t, int64(490_000), f.balanceInt())

	// pnl 100 USD -> +100 * 13800
	f.sim.Tick(map[string]float64{"BTCUSDT": 101_000})
	assert.Equal(t, int64(490_000+1_380_000), f.balanceInt())

	// pnl 50 USD -> |50| - |100| = -50
	f.sim.Tick(map[string]float64{"BTCUSDT": 100_500})
	assert.Equal(t, int64(490_000+690_000), f.balanceInt())

	// pnl -50 USD has the same magnitude, nothing accrues
	f.sim.Tick(map[string]float64{"BTCUSDT": 99_500})
	assert.Equal(t, int64(490_000+690_000), f.balanceInt())

	// pnl -100 USD grows the magnitude and so the balance
	f.sim.Tick(map[string]float64{"BTCUSDT": 99_000})
	assert.Equal(t, int64(490_000+1_380_000), f.balanceInt())
}

func TestTickIgnoresNoise(t *testing.T) {
	f := newFixture(t, 500_000)
	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)

	// 0.01 USD move rounds to a 0.00 PnL change
	f.sim.Tick(map[string]float64{"BTCUSDT": 100_000.01})
	assert.Equal(t, int64(490_000), f.balanceInt())

	// other symbols and missing prices are ignored
	f.sim.Tick(map[string]float64{"ETHUSDT": 5_000})
	f.sim.Tick(nil)
	assert.Equal(t, int64(490_000), f.balanceInt())
}

func TestTickWithoutPosition(t *testing.T) {
	f := newFixture(t, 500_000)
	f.sim.Tick(map[string]float64{"BTCUSDT": 1})
	assert.Equal(t, int64(500_000), f.balanceInt())
}

func TestAutoCloseOnExpiry(t *testing.T) {
	f := newFixture(t, 20_000_000)
	pos, err := f.sim.OpenPosition(models.HighMarginMode, "BTCUSDT", 100_000, 5_000_000, 10)
	require.NoError(t, err)

	// live PnL is far from the settlement constant
	f.sim.Tick(map[string]float64{"BTCUSDT": 99_000})

	f.clock.Advance(180*time.Minute - time.Second)
	assert.Equal(t, 1, f.sim.OpenPositionCount())
	assert.Empty(t, f.settler.amounts)

	f.clock.Advance(time.Second)
	assert.Zero(t, f.sim.OpenPositionCount())
	assert.Nil(t, f.sim.Open())
	assert.Equal(t, []float64{11_537_890}, f.settler.amounts)
	assert.True(t, f.sim.LimitReached())

	flag, _, err := f.kv.Get(storage.KeyHasTraded)
	require.NoError(t, err)
	assert.Equal(t, "true", flag)
	_, ok, _ := f.kv.Get(storage.KeyTradingPositions)
	assert.False(t, ok)
	_, ok, _ = f.kv.Get(storage.KeyPositionType)
	assert.False(t, ok)

	// the flag blocks every later open
	_, err = f.sim.OpenPosition(models.HighMarginMode, "BTCUSDT", 100_000, 10_000, 1)
	assert.True(t, IsRejection(err, ReasonLimitReached))

	// a second close for the same id is a no-op
	assert.False(t, f.sim.AutoClose(pos.ID))
	assert.Len(t, f.settler.amounts, 1)
}

func TestAutoCloseAdoptsServerBalance(t *testing.T) {
	f := newFixture(t, 500_000)
	server := 12_027_890.0
	f.settler.balance = &server

	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	assert.Equal(t, int64(12_027_890), f.balanceInt())
}

func TestAutoCloseSettlementFailureKeepsRemoval(t *testing.T) {
	f := newFixture(t, 500_000)
	f.settler.err = errors.New("network down")

	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	assert.Zero(t, f.sim.OpenPositionCount())
	assert.True(t, f.sim.LimitReached())
	assert.Len(t, f.settler.amounts, 1)
	assert.Equal(t, int64(490_000), f.balanceInt())
}

func TestStartDrivesTicks(t *testing.T) {
	f := newFixture(t, 500_000)
	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)

	src := staticPrices{"BTCUSDT": 101_000}
	f.sim.Start(src)
	f.sim.Start(src)
	f.clock.Advance(3 * time.Second)

	// only the first tick changes |pnl|
	assert.Equal(t, int64(490_000+1_380_000), f.balanceInt())

	f.sim.Stop()
	f.clock.Advance(4 * time.Hour)
	assert.Equal(t, 1, f.sim.OpenPositionCount())
}

func TestRestore(t *testing.T) {
	f := newFixture(t, 500_000)
	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)
	f.sim.Stop()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f.clock.Advance(time.Hour)

	restored := New(DefaultConfig(), f.clock, f.balance, f.kv, f.settler, logger, nil)
	require.NoError(t, restored.Restore())
	assert.Equal(t, 1, restored.OpenPositionCount())
	assert.Equal(t, 2*time.Hour, restored.Remaining())

	f.clock.Advance(2 * time.Hour)
	assert.Zero(t, restored.OpenPositionCount())
	assert.Equal(t, []float64{11_537_890}, f.settler.amounts)
}

func TestRestoreExpiredClosesImmediately(t *testing.T) {
	f := newFixture(t, 500_000)
	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)
	f.sim.Stop()
	f.clock.Advance(5 * time.Hour)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	restored := New(DefaultConfig(), f.clock, f.balance, f.kv, f.settler, logger, nil)
	require.NoError(t, restored.Restore())

	assert.Zero(t, restored.OpenPositionCount())
	assert.True(t, restored.LimitReached())
	assert.Len(t, f.settler.amounts, 1)
}

func TestResetLimit(t *testing.T) {
	f := newFixture(t, 500_000)
	require.NoError(t, f.kv.Set(storage.KeyHasTraded, "true"))
	require.NoError(t, f.sim.Restore())
	require.True(t, f.sim.LimitReached())

	f.sim.ResetLimit()
	assert.False(t, f.sim.LimitReached())
	_, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	assert.NoError(t, err)
}

func TestIDsUniquePerMillisecond(t *testing.T) {
	f := newFixture(t, 500_000)
	a, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)
	f.sim.AutoClose(a.ID)
	f.sim.ResetLimit()

	b, err := f.sim.OpenPosition(models.StandardMode, "BTCUSDT", 100_000, 10_000, 1)
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID)
}

type staticPrices map[string]float64

func (s staticPrices) Prices() map[string]float64 { return s }
