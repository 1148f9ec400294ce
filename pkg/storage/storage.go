// Package storage is the durable key/value boundary for client state:
// tokens, pair selection, favorites, the simulated position and the flags
// around it all go through a KV.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Fixed keys. Values are plain text or JSON and are not encrypted.
const (
	KeyAccessToken      = "access_token"
	KeyRefreshToken     = "refresh_token"
	KeySelectedPair     = "selected_pair"
	KeyFavoritePairs    = "favorite_pairs"
	KeyHasTraded        = "has_traded"
	KeyPendingWithdraw  = "pending_withdraw"
	KeyTradingPositions = "trading_positions"
	KeyPositionType     = "position_type"
	KeyBalance          = "balance"
	KeyBalanceUSD       = "balance_usd"
)

var ErrEmptyKey = errors.New("storage: key is empty")

type KV interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
	Close() error
}

// GetJSON decodes the value under key into out. It reports false when the
// key is absent.
func GetJSON(kv KV, key string, out any) (bool, error) {
	raw, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Set(key, string(b))
}
