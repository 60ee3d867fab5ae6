// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/aiku/filerelay/pkg/store"
)

type trigger int

const (
	triggerCommand trigger = iota
	triggerAuto
)

// HandleStartParsing produces and forwards a first file, then produces a
// second one and queues it.
func (e *Engine) HandleStartParsing(ctx context.Context) error {
	e.pipeline.Lock()
	defer e.pipeline.Unlock()
	return e.guard(ctx, "start_parsing", e.startParsing)
}

func (e *Engine) startParsing(ctx context.Context) error {
	e.saveState(ctx, store.StatusParsingFirst, "")
	first, err := e.RunParsingCycle(ctx)
	if err != nil {
		e.saveState(ctx, store.StatusErrorNoFile, "")
		return fmt.Errorf("%w: %w", ErrNoFile, err)
	}
	if !e.deliver(ctx, *first) {
		e.saveState(ctx, store.StatusErrorForwardFailed, "")
		return fmt.Errorf("%w: %s", ErrForwardFailed, first.FileName)
	}
	e.saveState(ctx, store.StatusFirstFileForwarded, first.FileName)

	e.saveState(ctx, store.StatusParsingSecond, "")
	second, err := e.RunParsingCycle(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Second parsing cycle produced no file")
		e.saveState(ctx, store.StatusWaitingOneFile, "")
		return nil
	}
	e.queue.PushBack(*second)
	e.saveState(ctx, store.StatusWaitingForMailing, first.FileName)
	return nil
}

// HandleSendNextFile forwards the head of the queue and refills the queue
// with a freshly produced file.
func (e *Engine) HandleSendNextFile(ctx context.Context) error {
	e.pipeline.Lock()
	defer e.pipeline.Unlock()
	return e.guard(ctx, "send_next_file", func(ctx context.Context) error {
		return e.advanceQueueAndRefill(ctx, triggerCommand)
	})
}

// guard runs a handler and turns a panic into the generic error status.
func (e *Engine) guard(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	log := e.log.With().Str("handler", name).Logger()
	log.Info().Msg("Handling command")
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Handler panicked")
			e.saveState(ctx, store.StatusError, "")
			err = fmt.Errorf("relay: %s handler panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

type autoResult int

const (
	autoSkipped autoResult = iota
	autoBusy
	autoForwarded
	autoFailed
)

// TryAutoForward forwards the next queued file when the relay is idle, the
// queue is not empty and the previous mailing is done. It reports whether a
// file was forwarded.
func (e *Engine) TryAutoForward(ctx context.Context) bool {
	return e.tryAutoForward(ctx) == autoForwarded
}

func (e *Engine) tryAutoForward(ctx context.Context) autoResult {
	if !e.pipeline.TryLock() {
		e.log.Debug().Msg("Pipeline busy, postponing auto-forward")
		return autoBusy
	}
	defer e.pipeline.Unlock()

	head, ok := e.queue.Peek()
	if !ok {
		e.log.Debug().Msg("Queue empty, nothing to auto-forward")
		return autoSkipped
	}
	log := e.log.With().Str("next_file", head.FileName).Logger()
	if status := e.readStatus(ctx); !status.IsFree() {
		log.Info().Str("status", string(status)).Msg("Relay not free, skipping auto-forward")
		return autoSkipped
	}
	if e.cfg.Watchdog.GateOnMailing {
		completed, err := e.store.ReadSyncFlag(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read mailing flag, skipping auto-forward")
			return autoSkipped
		} else if !completed {
			log.Info().Msg("Mailing still running, skipping auto-forward")
			return autoSkipped
		}
	}
	err := e.guard(ctx, "auto_forward", func(ctx context.Context) error {
		return e.advanceQueueAndRefill(ctx, triggerAuto)
	})
	if err != nil {
		e.log.Err(err).Msg("Auto-forward failed")
		return autoFailed
	}
	return autoForwarded
}

// advanceQueueAndRefill pops the head of the queue, forwards it and runs a
// parsing cycle to replace it. On forwarding failure the file goes back to the
// head of the queue.
func (e *Engine) advanceQueueAndRefill(ctx context.Context, trig trigger) error {
	entry, ok := e.queue.PopFront()
	if !ok {
		if trig == triggerCommand {
			e.log.Warn().Msg("No files in queue")
			e.saveState(ctx, store.StatusErrorQueueEmpty, "")
		}
		return ErrQueueEmpty
	}
	if trig == triggerCommand {
		e.saveState(ctx, store.StatusSendingNextFile, "")
	}
	if !e.deliver(ctx, entry) {
		e.queue.PushFront(entry)
		e.saveState(ctx, store.StatusErrorForwardFailed, "")
		return fmt.Errorf("%w: %s", ErrForwardFailed, entry.FileName)
	}
	forwarded := store.StatusFileForwarded
	if trig == triggerAuto {
		forwarded = store.StatusFileAutoForwarded
	}
	e.saveState(ctx, forwarded, entry.FileName)

	e.saveState(ctx, store.StatusParsingNext, "")
	next, err := e.RunParsingCycle(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Refill parsing cycle produced no file")
		if trig == triggerAuto {
			e.saveState(ctx, store.StatusErrorNoFile, "")
		} else {
			e.saveState(ctx, store.StatusWaitingCommand, "")
		}
		return nil
	}
	e.queue.PushBack(*next)
	e.saveState(ctx, store.StatusWaitingForMailing, entry.FileName)
	return nil
}
