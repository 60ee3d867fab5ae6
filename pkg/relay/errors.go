// Copyright 2024-2026 Aiku AI

package relay

import "errors"

var (
	ErrQueueEmpty    = errors.New("relay: no files in queue")
	ErrForwardFailed = errors.New("relay: file was not accepted after all retries")
	ErrNoFile        = errors.New("relay: parsing cycle produced no file")
	ErrCycleAborted  = errors.New("relay: parsing cycle aborted")
	ErrFileTimeout   = errors.New("relay: timed out waiting for file")
)
