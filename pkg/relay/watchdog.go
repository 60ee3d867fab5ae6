// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/filerelay/pkg/botsession"
	"github.com/aiku/filerelay/pkg/store"
)

type tickFunc func(ctx context.Context) error

// loop calls tick every interval until ctx is done. A failing or panicking
// iteration is logged and followed by a backoff, it never ends the loop.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, tick tickFunc) error {
	log := e.log.With().Str("loop", name).Logger()
	log.Info().Dur("interval", interval).Msg("Loop started")
	for {
		if err := e.pause(ctx, interval); err != nil {
			break
		}
		if backoff := e.runTick(ctx, log, tick); backoff > 0 {
			if err := e.pause(ctx, backoff); err != nil {
				break
			}
		}
	}
	log.Info().Msg("Loop stopped")
	return nil
}

func (e *Engine) runTick(ctx context.Context, log zerolog.Logger, tick tickFunc) (backoff time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Loop iteration panicked")
			backoff = e.cfg.Watchdog.ErrorBackoff.Duration()
		}
	}()
	err := tick(ctx)
	if err == nil || ctx.Err() != nil {
		return 0
	}
	if rl, ok := botsession.AsRateLimited(err); ok {
		wait := rl.RetryAfter + time.Second
		log.Warn().Dur("retry_after", wait).Msg("Flood control, pausing loop")
		return wait
	}
	log.Err(err).Msg("Loop iteration failed")
	return e.cfg.Watchdog.ErrorBackoff.Duration()
}

// checkCommand executes the pending mailbox command, if any. Commands from
// anyone but the operator are discarded, unreadable ones once they are stale.
func (e *Engine) checkCommand(ctx context.Context) error {
	cmd, err := e.mailbox.Take(ctx, e.now(), e.cfg.Watchdog.MalformedCommandGrace.Duration())
	if errors.Is(err, store.ErrCommandIncomplete) {
		e.log.Debug().Err(err).Msg("Command not readable yet, will retry")
		return nil
	} else if errors.Is(err, store.ErrDecodeFailed) {
		e.log.Warn().Err(err).Msg("Discarded malformed command")
		return nil
	} else if err != nil {
		return err
	} else if cmd == nil {
		return nil
	}
	log := e.log.With().Str("command", string(cmd.Kind)).Int64("user_id", cmd.UserID).Logger()
	if cmd.UserID != e.cfg.OperatorID {
		log.Warn().Msg("Ignoring command from unauthorized user")
		return nil
	}
	log.Info().Msg("Received command")
	switch cmd.Kind {
	case store.CommandStartParsing:
		err = e.HandleStartParsing(ctx)
	case store.CommandSendNextFile:
		err = e.HandleSendNextFile(ctx)
	default:
		log.Warn().Msg("Ignoring unknown command")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("Command finished with an error")
	}
	return nil
}

// resendLast forwards the last delivered file once more, unless the target
// bot is already running a selection or a delivery is in progress.
func (e *Engine) resendLast(ctx context.Context, reason string) error {
	log := e.log.With().Str("reason", reason).Logger()
	last, ok := e.queue.LastFile()
	if !ok {
		log.Warn().Msg("Resend requested but no file was forwarded yet")
		return nil
	}
	log = log.With().Str("file_name", last.FileName).Logger()
	if !e.forwarding.TryLock() {
		log.Info().Msg("Delivery in progress, skipping resend")
		return nil
	}
	defer e.forwarding.Unlock()

	recent, err := e.bots.RecentMessages(ctx, e.cfg.Bots.Target, e.cfg.Forwarding.ReplyScanLimit, 0)
	if err != nil {
		return err
	}
	if botsession.AnyFromBot(recent, e.observer.IsSelectionInProgress) {
		log.Info().Msg("Selection already in progress, skipping resend")
		return nil
	}
	if err = e.bots.ForwardMessage(ctx, e.cfg.Bots.Target, last.Message); err != nil {
		return err
	}
	log.Info().Msg("Resent last file")
	return e.pause(ctx, e.cfg.Watchdog.ResendSettle.Duration())
}

type retryMonitor struct {
	initialized bool
}

// tick consumes a pending retry request and scans new target bot messages for
// download timeouts. Each tick resends at most once.
func (m *retryMonitor) tick(e *Engine) tickFunc {
	return func(ctx context.Context) error {
		target := e.cfg.Bots.Target
		if !m.initialized {
			seq, err := e.bots.LatestSeq(ctx, target)
			if err != nil {
				return err
			}
			e.advanceTargetSeen(seq)
			m.initialized = true
			return nil
		}

		fresh, err := e.store.ConsumeRetryFlag(ctx, e.now(), e.cfg.Watchdog.RetryFlagTTL.Duration())
		if err != nil {
			e.log.Warn().Err(err).Msg("Failed to read retry request")
		} else if fresh {
			e.log.Info().Msg("Retry requested")
			return e.resendLast(ctx, "retry_requested")
		}

		after := e.targetSeen.Load()
		msgs, err := e.bots.RecentMessages(ctx, target, e.cfg.Watchdog.MonitorScanLimit, after)
		if err != nil {
			return err
		}
		e.advanceTargetSeen(botsession.MaxSeq(msgs, after))
		if botsession.AnyFromBot(msgs, e.observer.IsTimeoutSignal) {
			e.log.Warn().Msg("Target bot reported a download timeout")
			return e.resendLast(ctx, "download_timeout")
		}
		return nil
	}
}

type completionMonitor struct {
	initialized   bool
	seen          int64
	mailingDone   bool
	pendingSignal bool
}

// tick watches the source bot for completion messages and the mailing flag
// for a false to true transition. Either one triggers an auto-forward, which
// is retried on later ticks while the pipeline is busy.
func (m *completionMonitor) tick(e *Engine) tickFunc {
	return func(ctx context.Context) error {
		source := e.cfg.Bots.Source
		if !m.initialized {
			seq, err := e.bots.LatestSeq(ctx, source)
			if err != nil {
				return err
			}
			done, err := e.store.ReadSyncFlag(ctx)
			if err != nil {
				return err
			}
			m.seen, m.mailingDone, m.initialized = seq, done, true
			return nil
		}

		msgs, err := e.bots.RecentMessages(ctx, source, e.cfg.Watchdog.MonitorScanLimit, m.seen)
		if err != nil {
			return err
		}
		m.seen = botsession.MaxSeq(msgs, m.seen)
		if botsession.AnyFromBot(msgs, e.observer.IsCompletionSignal) {
			e.log.Info().Msg("Source bot reported completion")
			m.pendingSignal = true
		}
		if e.cfg.Watchdog.GateOnMailing {
			done, err := e.store.ReadSyncFlag(ctx)
			if err != nil {
				return err
			}
			if done && (!m.mailingDone || e.awaitingMailing.Load()) {
				e.awaitingMailing.Store(false)
				e.log.Info().Msg("Mailing completed")
				m.pendingSignal = true
			}
			m.mailingDone = done
		}
		if m.pendingSignal && e.tryAutoForward(ctx) != autoBusy {
			m.pendingSignal = false
		}
		return nil
	}
}
