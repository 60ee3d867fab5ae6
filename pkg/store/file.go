// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	StateFile     = "parsing_state.json"
	CommandFile   = "parsing_command.json"
	ForwardedFile = "forwarded_files.json"
	RetryFile     = "file_retry_needed.json"
	SyncFile      = "sync_state.json"

	lockDir = ".locks"
)

// FileStore keeps every record as a JSON document in a single directory.
type FileStore struct {
	dir string
}

var _ Backend = (*FileStore)(nil)

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(filepath.Join(dir, lockDir), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) path(record string) string {
	return filepath.Join(fs.dir, record)
}

func (fs *FileStore) withLock(ctx context.Context, record string, fn func() error) error {
	return withLockFile(ctx, filepath.Join(fs.dir, lockDir, record+".lck"), fn)
}

func (fs *FileStore) ReadState(ctx context.Context) (State, error) {
	state := DefaultState()
	found, err := readJSON(fs.path(StateFile), &state)
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

func (fs *FileStore) WriteState(ctx context.Context, state State) error {
	if state.Files == nil {
		state.Files = []string{}
	}
	return fs.withLock(ctx, StateFile, func() error {
		return writeJSONAtomic(fs.path(StateFile), state)
	})
}

func (fs *FileStore) readRegistry() (map[string]ForwardRecord, error) {
	registry := make(map[string]ForwardRecord)
	if _, err := readJSON(fs.path(ForwardedFile), &registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func (fs *FileStore) IsForwarded(ctx context.Context, name string) (bool, error) {
	registry, err := fs.readRegistry()
	if err != nil {
		return false, err
	}
	_, ok := registry[name]
	return ok, nil
}

func (fs *FileStore) MarkForwarded(ctx context.Context, name string) error {
	return fs.withLock(ctx, ForwardedFile, func() error {
		registry, err := fs.readRegistry()
		if errors.Is(err, ErrDecodeFailed) {
			// A corrupt registry is replaced rather than blocking every forward.
			registry = make(map[string]ForwardRecord)
		} else if err != nil {
			return err
		}
		if _, ok := registry[name]; ok {
			return nil
		}
		registry[name] = ForwardRecord{Forwarded: true}
		return writeJSONAtomic(fs.path(ForwardedFile), registry)
	})
}

func (fs *FileStore) ReadSyncFlag(ctx context.Context) (bool, error) {
	var sync SyncState
	if _, err := readJSON(fs.path(SyncFile), &sync); err != nil {
		return true, err
	}
	return sync.Completed(), nil
}

func (fs *FileStore) WriteSyncFlag(ctx context.Context, completed bool) error {
	return fs.withLock(ctx, SyncFile, func() error {
		return writeJSONAtomic(fs.path(SyncFile), SyncState{MailingCompleted: &completed})
	})
}

func (fs *FileStore) SetRetryFlag(ctx context.Context, at time.Time) error {
	ts := UnixSeconds(at)
	return fs.withLock(ctx, RetryFile, func() error {
		return writeJSONAtomic(fs.path(RetryFile), RetryFlag{Timestamp: &ts})
	})
}

func (fs *FileStore) ConsumeRetryFlag(ctx context.Context, now time.Time, ttl time.Duration) (fresh bool, err error) {
	err = fs.withLock(ctx, RetryFile, func() error {
		var flag RetryFlag
		found, readErr := readJSON(fs.path(RetryFile), &flag)
		if !found && readErr == nil {
			if _, statErr := os.Stat(fs.path(RetryFile)); errors.Is(statErr, os.ErrNotExist) {
				return nil
			}
		}
		if rmErr := os.Remove(fs.path(RetryFile)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("failed to remove retry flag: %w", rmErr)
		}
		fresh = readErr == nil && flag.isFresh(now, ttl)
		return nil
	})
	return
}

func (fs *FileStore) Publish(ctx context.Context, cmd Command) error {
	return fs.withLock(ctx, CommandFile, func() error {
		return writeJSONAtomic(fs.path(CommandFile), cmd)
	})
}

// Take reads and removes the command under the mailbox lock, so a Publish
// can never land between the two steps. Writers that bypass the lock may
// leave a half-written file behind; it is kept until grace has passed since
// its last modification.
func (fs *FileStore) Take(ctx context.Context, now time.Time, grace time.Duration) (*Command, error) {
	var taken *Command
	err := fs.withLock(ctx, CommandFile, func() error {
		path := fs.path(CommandFile)
		var cmd Command
		found, err := readJSON(path, &cmd)
		if errors.Is(err, ErrDecodeFailed) {
			if info, statErr := os.Stat(path); statErr == nil && now.Sub(info.ModTime()) < grace {
				return fmt.Errorf("%w: %v", ErrCommandIncomplete, err)
			}
		} else if err != nil {
			return err
		} else if !found {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("failed to remove command: %w", rmErr)
		}
		if err != nil {
			return err
		}
		taken = &cmd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

func (fs *FileStore) Close() error {
	return nil
}
