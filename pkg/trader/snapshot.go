package trader

import (
	"time"

	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/gregtusar/perpdesk/pkg/simulator"
)

// SimulationView is the simulated lane as shown to a user.
type SimulationView struct {
	Position     *models.SimulatedPosition `json:"position,omitempty"`
	CurrentPrice float64                   `json:"currentPrice,omitempty"`
	PnL          float64                   `json:"pnl"`
	ROI          float64                   `json:"roi"`
	Remaining    string                    `json:"remaining"`
	LimitReached bool                      `json:"limitReached"`
}

type RemotePositionView struct {
	models.Position
	MarkPrice     float64 `json:"markPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// Snapshot is a point-in-time copy of everything the desk knows.
type Snapshot struct {
	Authenticated bool                 `json:"authenticated"`
	SessionState  string               `json:"sessionState"`
	FeedConnected bool                 `json:"feedConnected"`
	Balance       float64              `json:"balance"`
	SelectedPair  models.TradingPair   `json:"selectedPair"`
	Favorites     []string             `json:"favorites"`
	Simulation    SimulationView       `json:"simulation"`
	Positions     []RemotePositionView `json:"positions"`
	Orders        []models.LimitOrder  `json:"orders"`
	LastSync      *time.Time           `json:"lastSync,omitempty"`
}

func (d *Desk) SimulationView() SimulationView {
	view := SimulationView{
		LimitReached: d.Simulator.LimitReached(),
		Remaining:    d.Simulator.Remaining().Truncate(time.Second).String(),
	}
	pos := d.Simulator.Open()
	if pos == nil {
		return view
	}
	view.Position = pos
	if sample, ok := d.Market.LivePrice(pos.Symbol); ok {
		view.CurrentPrice = sample.Price
		view.PnL = simulator.PnL(pos, sample.Price).Round(2).InexactFloat64()
		view.ROI = simulator.ROI(pos, sample.Price).Round(2).InexactFloat64()
	}
	return view
}

// RemotePositions marks the cached remote positions against live prices.
func (d *Desk) RemotePositions() []RemotePositionView {
	active := d.ActivePositions()
	out := make([]RemotePositionView, 0, len(active))
	for _, p := range active {
		view := RemotePositionView{Position: p, MarkPrice: p.CurrentPrice}
		if sample, ok := d.Market.LivePrice(p.Symbol); ok {
			view.MarkPrice = sample.Price
		}
		view.UnrealizedPnL = p.UnrealizedPnL(view.MarkPrice)
		out = append(out, view)
	}
	return out
}

func (d *Desk) Snapshot() Snapshot {
	s := Snapshot{
		Authenticated: d.Session.IsAuthenticated(),
		SessionState:  d.Session.State().String(),
		FeedConnected: d.Feed.IsConnected(),
		Balance:       d.Balance.Float(),
		SelectedPair:  d.Market.CurrentPair(),
		Favorites:     d.Market.Favorites(),
		Simulation:    d.SimulationView(),
		Positions:     d.RemotePositions(),
		Orders:        d.LimitOrders(),
	}
	d.mu.RLock()
	if !d.lastSync.IsZero() {
		t := d.lastSync
		s.LastSync = &t
	}
	d.mu.RUnlock()
	return s
}
