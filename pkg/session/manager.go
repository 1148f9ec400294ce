// Package session decides whether the stored credentials describe an
// authenticated user, refreshing the access token when it has expired.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/credentials"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

type State int

const (
	Unauthenticated State = iota
	Checking
	Authenticated
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

type Manager struct {
	creds     *credentials.Store
	refresher Refresher
	clock     clock.Clock
	logger    *logrus.Logger

	mu      sync.RWMutex
	state   State
	onReset []func()

	// serializes CheckAndRefresh so one refresh is in flight at a time
	checkMu sync.Mutex
}

func NewManager(creds *credentials.Store, refresher Refresher, clk clock.Clock, logger *logrus.Logger) *Manager {
	return &Manager{
		creds:     creds,
		refresher: refresher,
		clock:     clk,
		logger:    logger,
	}
}

// OnReset registers fn to run whenever the stored credentials are
// replaced by a login or cleared. A refresh keeps the same account and
// does not trigger it.
func (m *Manager) OnReset(fn func()) {
	m.mu.Lock()
	m.onReset = append(m.onReset, fn)
	m.mu.Unlock()
}

func (m *Manager) reset() {
	m.mu.RLock()
	hooks := append([]func(){}, m.onReset...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func (m *Manager) clear() {
	m.creds.Clear()
	m.setState(Unauthenticated)
	m.reset()
}

// IsValid decodes the token claims without verifying the signature and
// reports whether the exp claim is still in the future. Any decoding
// problem yields false.
func (m *Manager) IsValid(token string) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		m.logger.WithError(err).Debug("Invalid token")
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.After(m.clock.Now())
}

// CheckAndRefresh walks the session decision tree:
// no access token -> unauthenticated; valid token -> authenticated;
// expired without refresh token -> clear, unauthenticated;
// expired with refresh token -> refresh, and on any failure clear everything.
func (m *Manager) CheckAndRefresh(ctx context.Context) bool {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.setState(Checking)

	sess := m.creds.Get()
	if sess.AccessToken == "" {
		m.setState(Unauthenticated)
		return false
	}

	if m.IsValid(sess.AccessToken) {
		m.setState(Authenticated)
		return true
	}

	if sess.RefreshToken == "" {
		m.logger.Info("Access token expired and no refresh token available")
		m.clear()
		return false
	}

	m.logger.Debug("Attempting to refresh token")
	if err := m.refresh(ctx, sess.RefreshToken); err != nil {
		m.logger.WithError(err).Warn("Token refresh failed")
		m.clear()
		return false
	}

	m.setState(Authenticated)
	return true
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) error {
	if m.refresher == nil {
		return errors.New("no refresher configured")
	}
	pair, err := m.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if pair == nil || pair.AccessToken == "" {
		return errors.New("refresh response carried no access token")
	}
	return m.creds.Save(pair.AccessToken, pair.RefreshToken)
}

// Login stores the tokens returned by sign-up or login.
func (m *Manager) Login(tokens models.TokenPair) error {
	if err := m.creds.Save(tokens.AccessToken, tokens.RefreshToken); err != nil {
		return err
	}
	m.setState(Authenticated)
	m.reset()
	return nil
}

func (m *Manager) Logout() {
	m.clear()
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsAuthenticated() bool {
	return m.State() == Authenticated
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
