package market

import (
	"math/rand"
	"time"

	"github.com/gregtusar/perpdesk/pkg/models"
)

const bookDepth = 12

// GenerateOrderBook builds a mock book around basePrice. Each level moves a
// random 10-60 away from the previous one, so bids strictly descend from the
// base and asks strictly ascend from it. Asks are returned best-last like the
// ladder they feed.
func GenerateOrderBook(symbol string, basePrice float64, at time.Time, rng *rand.Rand) models.OrderBook {
	book := models.OrderBook{
		Symbol:    symbol,
		Bids:      ladder(basePrice, -1, rng),
		Asks:      ladder(basePrice, 1, rng),
		Timestamp: at,
	}
	for i, j := 0, len(book.Asks)-1; i < j; i, j = i+1, j-1 {
		book.Asks[i], book.Asks[j] = book.Asks[j], book.Asks[i]
	}
	return book
}

func ladder(base, direction float64, rng *rand.Rand) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, bookDepth)
	price := base
	for i := 0; i < bookDepth; i++ {
		if i > 0 {
			price += direction * (rng.Float64()*50 + 10)
		}
		amount := rng.Float64()*2 + 0.1
		levels = append(levels, models.OrderBookLevel{Price: price, Amount: amount, Total: price * amount})
	}
	return levels
}

// OrderBook builds a mock book for symbol around its live price, or its
// seed price before the first tick, stamped with the store clock.
func (s *Store) OrderBook(symbol string, rng *rand.Rand) (models.OrderBook, error) {
	s.mu.RLock()
	var base float64
	if sample, ok := s.live[symbol]; ok {
		base = sample.Price
	} else if i := s.pairIndexLocked(symbol); i >= 0 {
		base = s.pairs[i].LastPrice
	}
	s.mu.RUnlock()

	if base <= 0 {
		return models.OrderBook{}, ErrUnknownSymbol
	}
	return GenerateOrderBook(symbol, base, s.clock.Now(), rng), nil
}
