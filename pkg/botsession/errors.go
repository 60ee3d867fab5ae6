// Copyright 2024-2026 Aiku AI

package botsession

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotLoggedIn    = errors.New("botsession: not logged in")
	ErrBotNotFound    = errors.New("botsession: bot not found")
	ErrButtonNotFound = errors.New("botsession: button not found")
	ErrNoFiles        = errors.New("botsession: upload returned no files")
)

// RateLimitedError is returned when the server enforces flood control. The
// same request may be repeated after RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimited unwraps err into a *RateLimitedError.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
