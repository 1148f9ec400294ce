// Package wallet holds the single user balance figure shared by the remote
// account flows and the simulated lane.
package wallet

import (
	"sync"

	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Balance is the UserBalance scalar. Server responses, accrual ticks,
// margin debits and settlements all mutate it; nothing reconciles them.
type Balance struct {
	mu     sync.RWMutex
	value  decimal.Decimal
	kv     storage.KV
	logger *logrus.Logger

	onChange func(decimal.Decimal)
}

// New restores the cached balance from kv when present.
func New(kv storage.KV, logger *logrus.Logger) *Balance {
	b := &Balance{kv: kv, logger: logger}
	if raw, ok, err := kv.Get(storage.KeyBalance); err == nil && ok {
		if v, err := decimal.NewFromString(raw); err == nil {
			b.value = v
		}
	}
	return b
}

// OnChange registers a hook called after every mutation.
func (b *Balance) OnChange(fn func(decimal.Decimal)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Balance) Value() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Float returns the balance as float64 for display and API payloads.
func (b *Balance) Float() float64 {
	return b.Value().InexactFloat64()
}

// Set replaces the balance with a server reported figure.
func (b *Balance) Set(v decimal.Decimal) {
	b.apply(func(decimal.Decimal) decimal.Decimal { return v })
}

func (b *Balance) Add(delta decimal.Decimal) decimal.Decimal {
	return b.apply(func(cur decimal.Decimal) decimal.Decimal { return cur.Add(delta) })
}

func (b *Balance) Debit(amount decimal.Decimal) decimal.Decimal {
	return b.apply(func(cur decimal.Decimal) decimal.Decimal { return cur.Sub(amount) })
}

func (b *Balance) apply(fn func(decimal.Decimal) decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	b.value = fn(b.value)
	v := b.value
	hook := b.onChange
	b.mu.Unlock()

	if err := b.kv.Set(storage.KeyBalance, v.String()); err != nil {
		b.logger.WithError(err).Warn("Failed to cache balance")
	}
	if hook != nil {
		hook(v)
	}
	return v
}

// Reset zeroes the balance and drops the cached copy, as on logout.
func (b *Balance) Reset() {
	b.mu.Lock()
	b.value = decimal.Zero
	hook := b.onChange
	b.mu.Unlock()

	if err := b.kv.Delete(storage.KeyBalance); err != nil {
		b.logger.WithError(err).Warn("Failed to clear cached balance")
	}
	if hook != nil {
		hook(decimal.Zero)
	}
}
