// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyState     = "parsing_state"
	keyCommand   = "parsing_command"
	keyForwarded = "forwarded_files"
	keyRetry     = "file_retry_needed"
	keySync      = "sync_state"

	defaultKeyPrefix = "filerelay"
)

// RedisStore keeps the records as JSON strings under prefixed keys. The
// forwarded registry is a hash of file name to ForwardRecord.
type RedisStore struct {
	client *redis.Client
	prefix string

	badCommandLock  sync.Mutex
	badCommand      string
	badCommandSince time.Time
}

var _ Backend = (*RedisStore)(nil)

// NewRedisStore connects to the server at url (redis://host:port/db) and
// verifies the connection.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) key(record string) string {
	return rs.prefix + ":" + record
}

func (rs *RedisStore) getJSON(ctx context.Context, record string, out any) (bool, error) {
	data, err := rs.client.Get(ctx, rs.key(record)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get %s from redis: %w", record, err)
	}
	if err = json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrDecodeFailed, record, err)
	}
	return true, nil
}

func (rs *RedisStore) setJSON(ctx context.Context, record string, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return err
	}
	if err = rs.client.Set(ctx, rs.key(record), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", record, err)
	}
	return nil
}

func (rs *RedisStore) ReadState(ctx context.Context) (State, error) {
	state := DefaultState()
	found, err := rs.getJSON(ctx, keyState, &state)
	if err != nil {
		return DefaultState(), err
	} else if !found {
		return DefaultState(), nil
	}
	if state.Files == nil {
		state.Files = []string{}
	}
	return state, nil
}

func (rs *RedisStore) WriteState(ctx context.Context, state State) error {
	if state.Files == nil {
		state.Files = []string{}
	}
	return rs.setJSON(ctx, keyState, state)
}

func (rs *RedisStore) IsForwarded(ctx context.Context, name string) (bool, error) {
	ok, err := rs.client.HExists(ctx, rs.key(keyForwarded), name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check forwarded registry: %w", err)
	}
	return ok, nil
}

func (rs *RedisStore) MarkForwarded(ctx context.Context, name string) error {
	data, err := json.Marshal(ForwardRecord{Forwarded: true})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err = rs.client.HSetNX(ctx, rs.key(keyForwarded), name, data).Err(); err != nil {
		return fmt.Errorf("failed to update forwarded registry: %w", err)
	}
	return nil
}

func (rs *RedisStore) ReadSyncFlag(ctx context.Context) (bool, error) {
	var sync SyncState
	if _, err := rs.getJSON(ctx, keySync, &sync); err != nil {
		return true, err
	}
	return sync.Completed(), nil
}

func (rs *RedisStore) WriteSyncFlag(ctx context.Context, completed bool) error {
	return rs.setJSON(ctx, keySync, SyncState{MailingCompleted: &completed})
}

func (rs *RedisStore) SetRetryFlag(ctx context.Context, at time.Time) error {
	ts := UnixSeconds(at)
	return rs.setJSON(ctx, keyRetry, RetryFlag{Timestamp: &ts})
}

func (rs *RedisStore) ConsumeRetryFlag(ctx context.Context, now time.Time, ttl time.Duration) (bool, error) {
	data, err := rs.client.GetDel(ctx, rs.key(keyRetry)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to consume retry flag: %w", err)
	}
	var flag RetryFlag
	if json.Unmarshal(data, &flag) != nil {
		return false, nil
	}
	return flag.isFresh(now, ttl), nil
}

func (rs *RedisStore) Publish(ctx context.Context, cmd Command) error {
	return rs.setJSON(ctx, keyCommand, cmd)
}

// Take pops the command with GETDEL. An undecodable value is put back with
// SETNX, so a command published in the meantime wins, until the same value
// has been seen for grace.
func (rs *RedisStore) Take(ctx context.Context, now time.Time, grace time.Duration) (*Command, error) {
	data, err := rs.client.GetDel(ctx, rs.key(keyCommand)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to take command: %w", err)
	}
	var cmd Command
	if err = json.Unmarshal(data, &cmd); err == nil {
		return &cmd, nil
	}
	decodeErr := fmt.Errorf("%w: %s: %v", ErrDecodeFailed, keyCommand, err)
	if rs.malformedFor(string(data), now) >= grace {
		return nil, decodeErr
	}
	if err = rs.client.SetNX(ctx, rs.key(keyCommand), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to restore command: %w", err)
	}
	return nil, fmt.Errorf("%w: %v", ErrCommandIncomplete, decodeErr)
}

// malformedFor reports how long raw has been the undecodable command value.
func (rs *RedisStore) malformedFor(raw string, now time.Time) time.Duration {
	rs.badCommandLock.Lock()
	defer rs.badCommandLock.Unlock()
	if raw != rs.badCommand {
		rs.badCommand = raw
		rs.badCommandSince = now
	}
	return now.Sub(rs.badCommandSince)
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
