// Package credentials persists the access/refresh token pair.
package credentials

import (
	"fmt"

	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/sirupsen/logrus"
)

type Store struct {
	kv     storage.KV
	logger *logrus.Logger
}

func NewStore(kv storage.KV, logger *logrus.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Save stores both tokens. An empty refresh token keeps the stored one.
func (s *Store) Save(accessToken, refreshToken string) error {
	if err := s.kv.Set(storage.KeyAccessToken, accessToken); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	if refreshToken == "" {
		return nil
	}
	if err := s.kv.Set(storage.KeyRefreshToken, refreshToken); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// Get returns the stored pair. Absent tokens come back empty.
func (s *Store) Get() models.Session {
	return models.Session{
		AccessToken:  s.read(storage.KeyAccessToken),
		RefreshToken: s.read(storage.KeyRefreshToken),
	}
}

func (s *Store) AccessToken() string {
	return s.read(storage.KeyAccessToken)
}

func (s *Store) Clear() {
	if err := s.kv.Delete(storage.KeyAccessToken, storage.KeyRefreshToken); err != nil {
		s.logger.WithError(err).Warn("Failed to clear credentials")
	}
}

func (s *Store) read(key string) string {
	v, _, err := s.kv.Get(key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to read credential")
		return ""
	}
	return v
}
