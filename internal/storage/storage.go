// Package storage persists the client session (token, profile, guest flag,
// trial count) in a device-local key-value store.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-tavern/client/internal/config"
)

// Persisted session keys.
const (
	KeyToken      = "token"
	KeyUserInfo   = "userInfo"
	KeyIsGuest    = "isGuest"
	KeyTrialCount = "trialCount"
)

// SessionKeys lists every key written by the auth client.
var SessionKeys = []string{KeyToken, KeyUserInfo, KeyIsGuest, KeyTrialCount}

// ErrStorageClosed is returned by operations on a closed store.
var ErrStorageClosed = errors.New("storage is closed")

// KV is the persistent session store. Writes are applied immediately.
type KV interface {
	Set(ctx context.Context, key, value string) error
	// Get reports ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Remove deletes the key; removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (KV, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverRedis:
		store, err := NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
