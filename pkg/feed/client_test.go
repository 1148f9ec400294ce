package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tick struct {
	symbol string
	price  float64
}

type streamServer struct {
	*httptest.Server
	conns  atomic.Int32
	active atomic.Int32
	frames chan string
	drop   chan struct{}
	query  atomic.Value
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{frames: make(chan string, 16), drop: make(chan struct{}, 1)}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.conns.Add(1)
		s.query.Store(r.URL.RawQuery)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.active.Add(1)
		defer s.active.Add(-1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case f := <-s.frames:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
					return
				}
			case <-s.drop:
				return
			case <-done:
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStreamURL(t *testing.T) {
	got := StreamURL("", []string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@ticker/ethusdt@ticker", got)
}

func TestParseMessage(t *testing.T) {
	symbol, price, err := ParseMessage([]byte(`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"103560.80"}}`))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, 103560.8, price)

	_, _, err = ParseMessage([]byte(`not json`))
	assert.Error(t, err)
	_, _, err = ParseMessage([]byte(`{"data":{"s":"BTCUSDT","c":"abc"}}`))
	assert.Error(t, err)
	_, _, err = ParseMessage([]byte(`{"data":{"c":"1.0"}}`))
	assert.Error(t, err)
}

func TestConnectTwiceOpensOneConnection(t *testing.T) {
	srv := newStreamServer(t)
	c := NewClient(Config{BaseURL: srv.wsURL(), Symbols: []string{"BTCUSDT"}}, quietLogger(), nil)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.True(t, c.IsConnected())
	assert.Equal(t, int32(1), srv.conns.Load())
	assert.Equal(t, "streams=btcusdt@ticker", srv.query.Load())
}

func TestTicksReachSubscribers(t *testing.T) {
	srv := newStreamServer(t)
	m := metrics.New()
	c := NewClient(Config{BaseURL: srv.wsURL(), Symbols: []string{"BTCUSDT", "ETHUSDT"}}, quietLogger(), m)
	defer c.Disconnect()

	got := make(chan tick, 8)
	unsubscribe := c.Subscribe(func(symbol string, price float64) {
		got <- tick{symbol, price}
	})

	require.NoError(t, c.Connect(context.Background()))
	srv.frames <- `garbage`
	srv.frames <- `{"stream":"ethusdt@ticker","data":{"s":"ETHUSDT","c":"3891.23"}}`

	select {
	case tk := <-got:
		assert.Equal(t, tick{"ETHUSDT", 3891.23}, tk)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedTicks.WithLabelValues("ETHUSDT")))

	unsubscribe()
	unsubscribe()
	srv.frames <- `{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"103000"}}`

	select {
	case tk := <-got:
		t.Fatalf("unexpected tick after unsubscribe: %+v", tk)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDisconnectKeepsSubscribers(t *testing.T) {
	srv := newStreamServer(t)
	c := NewClient(Config{BaseURL: srv.wsURL(), Symbols: []string{"BTCUSDT"}}, quietLogger(), nil)

	got := make(chan tick, 4)
	c.Subscribe(func(symbol string, price float64) { got <- tick{symbol, price} })

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
	assert.False(t, c.IsConnected())
	c.Disconnect()
	require.Eventually(t, func() bool { return srv.active.Load() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	assert.Equal(t, int32(2), srv.conns.Load())

	srv.frames <- `{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"100"}}`
	select {
	case tk := <-got:
		assert.Equal(t, tick{"BTCUSDT", 100}, tk)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber lost across reconnect")
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := newStreamServer(t)
	m := metrics.New()
	c := NewClient(Config{
		BaseURL:        srv.wsURL(),
		Symbols:        []string{"BTCUSDT"},
		ReconnectDelay: 10 * time.Millisecond,
		MaxReconnects:  3,
	}, quietLogger(), m)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	srv.drop <- struct{}{}

	require.Eventually(t, func() bool {
		return srv.conns.Load() == 2 && c.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedReconnects))
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	srv := newStreamServer(t)
	c := NewClient(Config{BaseURL: srv.wsURL(), Symbols: []string{"BTCUSDT"}}, quietLogger(), nil)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	srv.drop <- struct{}{}

	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.conns.Load())
}

func TestSlowDialDoesNotBlockStatus(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Symbols: []string{"BTCUSDT"}}, quietLogger(), nil)
	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("dial never reached the server")
	}

	done := make(chan struct{})
	go func() {
		assert.False(t, c.IsConnected())
		c.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status calls blocked behind the dial")
	}

	release <- struct{}{}
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return")
	}
	assert.False(t, c.IsConnected())
}
