// Package feed streams last-trade prices from the public combined ticker
// stream and fans them out to subscribers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "wss://stream.binance.com:9443/stream"

	maxReconnectDelay = 60 * time.Second
)

// ErrDisconnected is returned by a Connect overtaken by Disconnect while
// dialing.
var ErrDisconnected = errors.New("feed: disconnected while connecting")

// Handler receives one price update.
type Handler func(symbol string, price float64)

type Config struct {
	BaseURL        string
	Symbols        []string
	ReconnectDelay time.Duration
	// MaxReconnects bounds reconnect attempts after an unexpected drop.
	// Zero disables reconnecting.
	MaxReconnects int
	PingInterval  time.Duration
}

// StreamURL builds the combined stream URL for the given symbols.
func StreamURL(base string, symbols []string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

type Client struct {
	cfg     Config
	url     string
	logger  *logrus.Logger
	metrics *metrics.Registry

	// connectMu serializes Connect calls; mu is never held across a dial.
	connectMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	stop        chan struct{}
	disconnects int

	writeMu sync.Mutex

	subMu   sync.RWMutex
	nextSub int
	subs    map[int]Handler
}

type streamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

func NewClient(cfg Config, logger *logrus.Logger, m *metrics.Registry) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Client{
		cfg:     cfg,
		url:     StreamURL(cfg.BaseURL, cfg.Symbols),
		logger:  logger,
		metrics: m,
		subs:    make(map[int]Handler),
	}
}

func (c *Client) URL() string {
	return c.url
}

// Connect opens the stream. Calling it while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	gen := c.disconnects
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnects != gen {
		conn.Close()
		return ErrDisconnected
	}
	if c.connected {
		// a reconnect attached while this dial was in flight
		conn.Close()
		return nil
	}

	if c.stop != nil {
		close(c.stop)
	}
	c.stop = make(chan struct{})
	c.attachLocked(ctx, conn)
	c.logger.WithField("url", c.url).Info("Price feed connected")
	return nil
}

// Subscribe registers fn for every price update. The returned func removes it.
func (c *Client) Subscribe(fn Handler) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Disconnect closes the connection and stops reconnecting. Subscribers
// stay registered for the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnects++

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}
	if c.connected {
		c.logger.Info("Price feed disconnected")
	}
	c.connected = false
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to price stream: %w", err)
	}
	return conn, nil
}

func (c *Client) attachLocked(ctx context.Context, conn *websocket.Conn) {
	c.conn = conn
	c.connected = true
	stop := c.stop

	go c.readLoop(ctx, conn, stop)
	go c.keepAlive(ctx, conn, stop)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			c.logger.WithError(err).Warn("Price stream read failed")
			c.handleDrop(ctx, conn, stop)
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	symbol, price, err := ParseMessage(raw)
	if err != nil {
		c.logger.WithError(err).Debug("Dropping price frame")
		return
	}
	if c.metrics != nil {
		c.metrics.FeedTicks.WithLabelValues(symbol).Inc()
	}

	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(symbol, price)
	}
}

// ParseMessage extracts (symbol, price) from a combined stream frame.
func ParseMessage(raw []byte) (string, float64, error) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", 0, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Data.Symbol == "" {
		return "", 0, errors.New("frame has no symbol")
	}
	price, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse price %q: %w", msg.Data.Close, err)
	}
	return msg.Data.Symbol, price, nil
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Warn("Failed to send ping")
				conn.Close()
				return
			}
		}
	}
}

// handleDrop marks the connection lost and, when allowed, redials with
// exponential backoff.
func (c *Client) handleDrop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()
	conn.Close()

	delay := c.cfg.ReconnectDelay
	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(delay):
		}
		if c.metrics != nil {
			c.metrics.FeedReconnects.Inc()
		}

		next, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			if c.stop != stop {
				// Disconnect or a fresh Connect happened meanwhile.
				c.mu.Unlock()
				next.Close()
				return
			}
			c.attachLocked(ctx, next)
			c.mu.Unlock()
			c.logger.WithField("attempt", attempt).Info("Price feed reconnected")
			return
		}

		c.logger.WithError(err).WithField("attempt", attempt).Warn("Price feed reconnect failed")
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
	if c.cfg.MaxReconnects > 0 {
		c.logger.WithField("attempts", c.cfg.MaxReconnects).Error("Price feed gave up reconnecting")
	}
}
