// Package market is the trading state store: selected pair, favorites,
// the live price cache and the order entry form.
package market

import (
	"errors"
	"sync"

	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPositionOpen is returned when the pair is switched while a
	// simulated position is live.
	ErrPositionOpen  = errors.New("active positions exist: switch pairs after they are closed")
	ErrUnknownSymbol = errors.New("unknown trading pair")
)

// PositionCounter reports how many simulated positions are open.
type PositionCounter interface {
	OpenPositionCount() int
}

type Store struct {
	kv        storage.KV
	positions PositionCounter
	clock     clock.Clock
	logger    *logrus.Logger

	mu        sync.RWMutex
	selected  string
	favorites []string
	pairs     []models.TradingPair
	live      map[string]models.LivePriceSample
	form      OrderForm
}

// NewStore restores the persisted selection and favorites from kv.
func NewStore(kv storage.KV, positions PositionCounter, clk clock.Clock, logger *logrus.Logger) *Store {
	s := &Store{
		kv:        kv,
		positions: positions,
		clock:     clk,
		logger:    logger,
		selected:  DefaultSymbol,
		favorites: append([]string(nil), DefaultFavorites...),
		pairs:     SeedPairs(),
		live:      make(map[string]models.LivePriceSample),
		form:      DefaultOrderForm(),
	}

	if v, ok, err := kv.Get(storage.KeySelectedPair); err == nil && ok && v != "" {
		s.selected = v
	}
	var favs []string
	if ok, err := storage.GetJSON(kv, storage.KeyFavoritePairs, &favs); err != nil {
		logger.WithError(err).Warn("Ignoring unreadable favorites")
	} else if ok {
		s.favorites = favs
	}
	return s
}

// SetSelectedSymbol switches the selected pair. It is refused while a
// simulated position is open.
func (s *Store) SetSelectedSymbol(symbol string) error {
	if s.positions != nil && s.positions.OpenPositionCount() > 0 {
		s.logger.WithField("symbol", symbol).Warn("Pair switch blocked by active position")
		return ErrPositionOpen
	}

	s.mu.Lock()
	if s.pairIndexLocked(symbol) < 0 {
		s.mu.Unlock()
		return ErrUnknownSymbol
	}
	s.selected = symbol
	s.mu.Unlock()

	if err := s.kv.Set(storage.KeySelectedPair, symbol); err != nil {
		s.logger.WithError(err).Warn("Failed to persist selected pair")
	}
	return nil
}

// RecordTick stores the latest sample and updates the pair's change
// relative to its previous last price.
func (s *Store) RecordTick(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.pairIndexLocked(symbol); i >= 0 {
		pair := &s.pairs[i]
		if pair.LastPrice != 0 {
			pair.Change24hPercent = (price - pair.LastPrice) / pair.LastPrice * 100
		}
		pair.LastPrice = price
	}

	s.live[symbol] = models.LivePriceSample{
		Symbol:           symbol,
		Price:            price,
		ObservedAtMillis: s.clock.Now().UnixMilli(),
	}
}

// ToggleFavorite adds symbol to the favorites or removes it.
func (s *Store) ToggleFavorite(symbol string) bool {
	s.mu.Lock()
	added := true
	next := make([]string, 0, len(s.favorites)+1)
	for _, f := range s.favorites {
		if f == symbol {
			added = false
			continue
		}
		next = append(next, f)
	}
	if added {
		next = append(next, symbol)
	}
	s.favorites = next
	s.mu.Unlock()

	if err := storage.SetJSON(s.kv, storage.KeyFavoritePairs, next); err != nil {
		s.logger.WithError(err).Warn("Failed to persist favorites")
	}
	return added
}

func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// CurrentPair returns the selected pair, or the first pair when the
// selection is not among the seeded pairs.
func (s *Store) CurrentPair() models.TradingPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.pairIndexLocked(s.selected); i >= 0 {
		return s.pairs[i]
	}
	return s.pairs[0]
}

func (s *Store) Pairs() []models.TradingPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TradingPair(nil), s.pairs...)
}

func (s *Store) Favorites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.favorites...)
}

func (s *Store) IsFavorite(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.favorites {
		if f == symbol {
			return true
		}
	}
	return false
}

func (s *Store) LivePrice(symbol string) (models.LivePriceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.live[symbol]
	return v, ok
}

func (s *Store) LivePrices() map[string]models.LivePriceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.LivePriceSample, len(s.live))
	for k, v := range s.live {
		out[k] = v
	}
	return out
}

// Prices flattens the live cache into symbol -> price.
func (s *Store) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.live))
	for k, v := range s.live {
		out[k] = v.Price
	}
	return out
}

func (s *Store) pairIndexLocked(symbol string) int {
	for i := range s.pairs {
		if s.pairs[i].Symbol == symbol {
			return i
		}
	}
	return -1
}
