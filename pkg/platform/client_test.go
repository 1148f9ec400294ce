package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

type recorder struct {
	mu   sync.Mutex
	hits map[string]int
	last *http.Request
	body []byte
}

func (r *recorder) request() *http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *recorder) payload() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.body)
}

func (r *recorder) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestClient wires a client to handler. Every request is recorded
// before the handler runs.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recorder, *clock.Virtual, *metrics.Registry) {
	t.Helper()
	rec := &recorder{hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.hits[r.URL.Path]++
		rec.last = r
		rec.body = body
		rec.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	clk := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	m := metrics.New()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimit = 0
	return NewClient(cfg, staticToken("tok-123"), clk, quietLogger(), m), rec, clk, m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginSendsCredentialsAndHeaders(t *testing.T) {
	c, rec, _, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.TokenPair{AccessToken: "a", RefreshToken: "r"})
	})

	tokens, err := c.Login(context.Background(), models.LoginRequest{Email: "u@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, &models.TokenPair{AccessToken: "a", RefreshToken: "r"}, tokens)

	assert.Equal(t, http.MethodPost, rec.request().Method)
	assert.Equal(t, "/api/Auth/login", rec.request().URL.Path)
	assert.Equal(t, "Bearer tok-123", rec.request().Header.Get("Authorization"))
	assert.NotEmpty(t, rec.request().Header.Get("X-Request-ID"))
	assert.JSONEq(t, `{"email":"u@example.com","password":"pw"}`, rec.payload())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("auth.login", "200")))
}

func TestValidationHappensBeforeAnyCall(t *testing.T) {
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	ctx := context.Background()

	_, err := c.Login(ctx, models.LoginRequest{Email: " "})
	assert.True(t, IsKind(err, KindValidation))

	_, err = c.Withdraw(ctx, models.WithdrawRequest{Amount: 11_999_999, CardNumber: "8600", FullName: "A B"})
	assert.True(t, IsKind(err, KindValidation))

	_, err = c.Deposit(ctx, models.DepositRequest{Amount: 100})
	assert.True(t, IsKind(err, KindValidation))

	_, err = c.OpenLimitOrder(ctx, models.LimitOrderRequest{Symbol: "BTCUSDT", Type: models.SideLong, Amount: 10, Leverage: 5})
	assert.True(t, IsKind(err, KindValidation))

	_, err = c.OpenPosition(ctx, models.OpenPositionRequest{Symbol: "BTCUSDT", Type: 3, Amount: 10, Leverage: 5})
	assert.True(t, IsKind(err, KindValidation))

	assert.Nil(t, rec.request())
}

func TestErrorDetailProbing(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
		detail string
	}{
		{"detail wins", http.StatusBadRequest, `{"detail":"bad amount","title":"t","message":"m"}`, KindValidation, "bad amount"},
		{"title next", http.StatusUnauthorized, `{"title":"Unauthorized","message":"m"}`, KindAuth, "Unauthorized"},
		{"message last", http.StatusInternalServerError, `{"message":"boom"}`, KindServer, "boom"},
		{"fallback", http.StatusBadGateway, `<html>`, KindServer, "unknown error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.Me(context.Background())
			require.Error(t, err)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.kind, apiErr.Kind)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.detail, apiErr.Detail)
		})
	}
}

func TestNetworkErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = addr
	cfg.Timeout = time.Second
	c := NewClient(cfg, nil, clock.Real(), quietLogger(), nil)

	_, err := c.Me(context.Background())
	assert.True(t, IsKind(err, KindNetwork))
}

func TestActivePositionsCachedUntilMutation(t *testing.T) {
	c, rec, clk, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Trading/positions/active":
			writeJSON(w, http.StatusOK, []models.Position{{ID: 7, Symbol: "BTCUSDT", Type: models.SideLong}})
		case "/api/Trading/positions/close":
			writeJSON(w, http.StatusOK, models.Position{ID: 7, Status: "closed"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()
	const path = "/api/Trading/positions/active"

	got, err := c.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)

	_, err = c.ActivePositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(path))

	clk.Advance(10 * time.Second)
	_, err = c.ActivePositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count(path))

	_, err = c.ClosePosition(ctx, models.ClosePositionRequest{PositionID: 7, CurrentPrice: 101000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"PositionId":7,"CurrentPrice":101000}`, rec.payload())

	_, err = c.ActivePositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.count(path))
}

func TestHistoryPositionsPaging(t *testing.T) {
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []models.Position{{ID: 1}, {ID: 2}})
	})

	got, err := c.HistoryPositions(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "1", rec.request().URL.Query().Get("page"))
	assert.Equal(t, "20", rec.request().URL.Query().Get("pageSize"))

	_, err = c.HistoryPositions(context.Background(), 3, 50)
	require.NoError(t, err)
	assert.Equal(t, "3", rec.request().URL.Query().Get("page"))
	assert.Equal(t, 2, rec.count("/api/Trading/positions/history"))
}

func TestUpdateBalanceInvalidatesBalance(t *testing.T) {
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/user/get_balance":
			writeJSON(w, http.StatusOK, models.BalanceResponse{Balance: 500_000})
		case "/api/user/update_balance":
			writeJSON(w, http.StatusOK, map[string]any{"balance": 12_037_890})
		}
	})
	ctx := context.Background()

	b, err := c.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500_000.0, b.Balance)

	upd, err := c.UpdateBalance(ctx, 11_537_890)
	require.NoError(t, err)
	require.NotNil(t, upd.Balance)
	assert.Equal(t, 12_037_890.0, *upd.Balance)
	assert.JSONEq(t, `{"amount_change":11537890}`, rec.payload())

	_, err = c.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count("/api/user/get_balance"))
}

func TestResetCacheDropsEveryQuery(t *testing.T) {
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/user/get_balance":
			writeJSON(w, http.StatusOK, models.BalanceResponse{Balance: 500_000})
		default:
			writeJSON(w, http.StatusOK, []any{})
		}
	})
	ctx := context.Background()

	_, err := c.GetBalance(ctx)
	require.NoError(t, err)
	_, err = c.ActivePositions(ctx)
	require.NoError(t, err)
	_, err = c.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rec.count("/api/user/get_balance"))

	c.ResetCache()

	_, err = c.GetBalance(ctx)
	require.NoError(t, err)
	_, err = c.ActivePositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count("/api/user/get_balance"))
	assert.Equal(t, 2, rec.count("/api/Trading/positions/active"))
}

func TestUpdateBalanceWithoutBalanceField(t *testing.T) {
	c, _, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	upd, err := c.UpdateBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, upd.Balance)
}

func TestDepositMultipart(t *testing.T) {
	type form struct {
		amount, card, provider, fileName, file string
	}
	got := make(chan form, 1)
	c, _, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("receipt")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		got <- form{r.FormValue("Amount"), r.FormValue("CardNumber"), r.FormValue("Provider"), hdr.Filename, string(data)}
		writeJSON(w, http.StatusOK, models.PaymentResult{ID: 9, Status: "pending"})
	})

	res, err := c.Deposit(context.Background(), models.DepositRequest{
		Amount:     250000,
		CardNumber: "8600123456789012",
		Provider:   "click",
		Receipt:    &models.Receipt{FileName: "receipt.png", Reader: strings.NewReader("png-bytes")},
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, form{"250000", "8600123456789012", "click", "receipt.png", "png-bytes"}, <-got)
}

func TestPayCommissionMultipart(t *testing.T) {
	got := make(chan map[string]string, 1)
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _, fileErr := r.FormFile("invoice_file")
		got <- map[string]string{
			"amount":      r.FormValue("amount"),
			"card_number": r.FormValue("card_number"),
			"full_name":   r.FormValue("full_name"),
			"has_file":    map[bool]string{true: "yes", false: "no"}[fileErr == nil],
		}
		writeJSON(w, http.StatusOK, models.PaymentResult{Status: "ok"})
	})

	_, err := c.PayCommission(context.Background(), models.CommissionRequest{
		Amount:     1_800_000,
		CardNumber: "8600",
		FullName:   "Test User",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/Payments/withdraw/pay-commission", rec.request().URL.Path)
	assert.Equal(t, map[string]string{
		"amount": "1800000", "card_number": "8600", "full_name": "Test User", "has_file": "no",
	}, <-got)
}

func TestLimitOrderLifecycle(t *testing.T) {
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/Trading/limitorder/open":
			writeJSON(w, http.StatusOK, models.LimitOrder{ID: 11, Symbol: "ETHUSDT", LimitPrice: 3800})
		case r.URL.Path == "/api/Trading/limit_orders":
			writeJSON(w, http.StatusOK, []models.LimitOrder{{ID: 11}})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	_, err := c.LimitOrders(ctx)
	require.NoError(t, err)

	order, err := c.OpenLimitOrder(ctx, models.LimitOrderRequest{
		Symbol: "ETHUSDT", Type: models.SideLong, Side: models.SideLong,
		LimitPrice: 3800, Amount: 1000, Margin: 100, Leverage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), order.ID)

	_, err = c.LimitOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.count("/api/Trading/limit_orders"))

	require.NoError(t, c.CancelLimitOrder(ctx, 11))
	assert.Equal(t, "/api/Trading/cancel_limit_order/11", rec.request().URL.Path)
	assert.Equal(t, http.MethodDelete, rec.request().Method)
}

func TestRefreshTokenRequiresAccessToken(t *testing.T) {
	c, rec, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	_, err := c.RefreshToken(context.Background(), "r-1")
	assert.True(t, IsKind(err, KindAuth))
	assert.JSONEq(t, `{"refreshToken":"r-1"}`, rec.payload())
}
