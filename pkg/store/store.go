// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"fmt"
	"time"
)

// Store holds the orchestration records owned by the relay.
type Store interface {
	// ReadState returns the persisted state, or DefaultState when nothing
	// has been written yet. On decode failure DefaultState is returned along
	// with an error wrapping ErrDecodeFailed.
	ReadState(ctx context.Context) (State, error)
	WriteState(ctx context.Context, state State) error

	IsForwarded(ctx context.Context, name string) (bool, error)
	MarkForwarded(ctx context.Context, name string) error

	// ReadSyncFlag returns the mailing flag. A missing record reads as true.
	ReadSyncFlag(ctx context.Context) (bool, error)
	WriteSyncFlag(ctx context.Context, completed bool) error

	SetRetryFlag(ctx context.Context, at time.Time) error
	// ConsumeRetryFlag removes the retry flag if present and reports whether
	// it was raised less than ttl before now. Stale and undecodable flags
	// are removed too.
	ConsumeRetryFlag(ctx context.Context, now time.Time, ttl time.Duration) (bool, error)

	Close() error
}

// Mailbox is the single-slot command channel between the operator front-end
// and the relay. A newer command overwrites an unacknowledged one.
type Mailbox interface {
	Publish(ctx context.Context, cmd Command) error
	// Take removes and returns the pending command, or nil when the slot is
	// empty. A record that cannot be decoded stays in place and yields
	// ErrCommandIncomplete until it is grace old; after that it is dropped
	// and the error wraps ErrDecodeFailed.
	Take(ctx context.Context, now time.Time, grace time.Duration) (*Command, error)
}

// Backend is a Store that also carries the command mailbox.
type Backend interface {
	Store
	Mailbox
}

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Type      string `yaml:"type"`
	Directory string `yaml:"directory"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Open creates the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case "", BackendFile:
		return NewFileStore(cfg.Directory)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
}
