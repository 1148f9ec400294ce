package market

import (
	"github.com/gregtusar/perpdesk/pkg/models"
)

const DefaultSymbol = "BTCUSDT"

// DefaultFavorites are used until the user toggles a favorite.
var DefaultFavorites = []string{"BTCUSDT", "ETHUSDT"}

// SeedPairs returns a fresh copy of the six supported pairs.
func SeedPairs() []models.TradingPair {
	return []models.TradingPair{
		{Symbol: "BTCUSDT", DisplayName: "BTC/USDT", LastPrice: 103560.8, Change24hPercent: 1.63, Volume24h: "423.14M"},
		{Symbol: "ETHUSDT", DisplayName: "ETH/USDT", LastPrice: 3891.23, Change24hPercent: 2.45, Volume24h: "198.76M"},
		{Symbol: "BNBUSDT", DisplayName: "BNB/USDT", LastPrice: 612.45, Change24hPercent: -0.87, Volume24h: "87.32M"},
		{Symbol: "SOLUSDT", DisplayName: "SOL/USDT", LastPrice: 234.56, Change24hPercent: 5.23, Volume24h: "156.89M"},
		{Symbol: "XRPUSDT", DisplayName: "XRP/USDT", LastPrice: 2.34, Change24hPercent: -1.23, Volume24h: "234.56M"},
		{Symbol: "ADAUSDT", DisplayName: "ADA/USDT", LastPrice: 1.12, Change24hPercent: 3.45, Volume24h: "89.23M"},
	}
}

// Symbols lists the seeded symbols in order.
func Symbols() []string {
	pairs := SeedPairs()
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Symbol
	}
	return out
}
