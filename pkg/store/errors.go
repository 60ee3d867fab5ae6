// Copyright 2024-2026 Aiku AI

package store

import "errors"

var (
	ErrLockTimeout       = errors.New("store: lock timeout")
	ErrLockUnavailable   = errors.New("store: lock unavailable")
	ErrDecodeFailed      = errors.New("store: decode failed")
	ErrEncodeFailed      = errors.New("store: encode failed")
	ErrCommandIncomplete = errors.New("store: command not readable yet")
	ErrAtomicWriteFailed = errors.New("store: atomic write failed")
	ErrUnknownBackend    = errors.New("store: unknown backend")
)
