package models

import (
	"time"
)

// TradingPair is one of the seeded perpetual pairs. LastPrice and
// Change24hPercent are mutated by live feed ticks.
type TradingPair struct {
	Symbol           string  `json:"symbol"`
	DisplayName      string  `json:"displayName"`
	LastPrice        float64 `json:"lastPrice"`
	Change24hPercent float64 `json:"change24h"`
	Volume24h        string  `json:"volume24h"`
}

// LivePriceSample is the latest observed price for a symbol. It is
// overwritten on every tick.
type LivePriceSample struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	ObservedAtMillis int64   `json:"timestamp"`
}

type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Total  float64 `json:"total"`
}

// Ticker is a single (symbol, price) update as delivered by the price feed.
type Ticker struct {
	Symbol string
	Price  float64
}
