// Package api serves a read-only view of the desk over HTTP.
package api

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/gregtusar/perpdesk/pkg/trader"
	"github.com/sirupsen/logrus"
)

type Server struct {
	desk    *trader.Desk
	metrics *metrics.Registry
	logger  *logrus.Logger
	port    string
	http    *http.Server
}

func NewServer(desk *trader.Desk, m *metrics.Registry, logger *logrus.Logger, port string) *Server {
	return &Server{
		desk:    desk,
		metrics: m,
		logger:  logger,
		port:    port,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/pairs", s.handlePairs)
	mux.HandleFunc("/api/prices", s.handlePrices)
	mux.HandleFunc("/api/simulation", s.handleSimulation)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/orderbook", s.handleOrderBook)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return corsMiddleware(mux)
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting status server on port %s", s.port)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	response := map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"feedConnected": s.desk.Feed.IsConnected(),
		"session":       s.desk.Session.State().String(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected":  s.desk.Market.Selected(),
		"favorites": s.desk.Market.Favorites(),
		"pairs":     s.desk.Market.Pairs(),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.desk.Market.LivePrices())
}

func (s *Server) handleSimulation(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.desk.SimulationView())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.desk.RemotePositions())
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.desk.LimitOrders())
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = s.desk.Market.Selected()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	book, err := s.desk.Market.OrderBook(symbol, rng)
	if err != nil {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.desk.Snapshot())
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
