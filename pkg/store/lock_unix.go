// Copyright 2024-2026 Aiku AI

//go:build !windows

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// withLockFile runs fn while holding an exclusive flock on lockPath. The
// holder writes its pid into the file so a stuck lock can be traced.
func withLockFile(ctx context.Context, lockPath string, fn func() error) error {
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrLockUnavailable, lockPath, err)
	}
	defer lock.Close()

	for {
		held, err := tryFlock(lock)
		if err != nil {
			return fmt.Errorf("%w: flock %s: %v", ErrLockUnavailable, lockPath, err)
		} else if held {
			break
		} else if err = waitForLockRetry(ctx, lockPath); err != nil {
			return err
		}
	}
	defer unlockFile(lock)
	markHolder(lock)
	return fn()
}

// tryFlock makes one non-blocking attempt, restarting it when interrupted.
// Contention is reported as held == false rather than as an error.
func tryFlock(lock *os.File) (held bool, err error) {
	for {
		err = unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EAGAIN):
			return false, nil
		default:
			return false, err
		}
	}
}

func unlockFile(lock *os.File) {
	_ = unix.Flock(int(lock.Fd()), unix.LOCK_UN)
}

func markHolder(lock *os.File) {
	if lock.Truncate(0) == nil {
		_, _ = lock.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
}
