// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"

	"github.com/aiku/filerelay/pkg/botsession"
)

type replyOutcome int

const (
	replyNone replyOutcome = iota
	replyAccepted
	replyTimeout
)

func (o replyOutcome) String() string {
	switch o {
	case replyAccepted:
		return "accepted"
	case replyTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// inspectReply classifies the target bot messages newer than after. The newest
// recognizable message decides.
func (e *Engine) inspectReply(ctx context.Context, after int64) (replyOutcome, error) {
	msgs, err := e.bots.RecentMessages(ctx, e.cfg.Bots.Target, e.cfg.Forwarding.ReplyScanLimit, after)
	if err != nil {
		return replyNone, err
	}
	e.advanceTargetSeen(botsession.MaxSeq(msgs, after))
	for _, msg := range msgs {
		if msg.FromSelf {
			continue
		}
		if e.observer.IsTimeoutSignal(msg.Text) {
			return replyTimeout, nil
		} else if e.observer.IsAcceptanceSignal(msg.Text) {
			return replyAccepted, nil
		}
	}
	return replyNone, nil
}

// ForwardWithRetry delivers entry to the target bot, resending it while the
// bot reports a download timeout. It returns true once the file is considered
// accepted and false after maxRetries unsuccessful attempts.
func (e *Engine) ForwardWithRetry(ctx context.Context, entry Entry, maxRetries int) bool {
	e.forwarding.Lock()
	defer e.forwarding.Unlock()

	cfg := e.cfg.Forwarding
	target := e.cfg.Bots.Target
	log := e.log.With().Str("file_name", entry.FileName).Logger()
	e.queue.SetLastFile(entry)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		log := log.With().Int("attempt", attempt).Int("max_retries", maxRetries).Logger()
		log.Info().Msg("Forwarding file")

		watermark, err := e.bots.LatestSeq(ctx, target)
		if err == nil {
			err = e.bots.ForwardMessage(ctx, target, entry.Message)
		}
		if err != nil {
			log.Err(err).Msg("Failed to forward file")
			delay := cfg.RetryDelay.Duration()
			if rl, ok := botsession.AsRateLimited(err); ok {
				delay = rl.RetryAfter
			}
			if e.pause(ctx, delay) != nil {
				return false
			}
			continue
		}
		if e.pause(ctx, cfg.SettleDelay.Duration()) != nil {
			return false
		}

		outcome, err := e.inspectReply(ctx, watermark)
		if err != nil {
			log.Err(err).Msg("Failed to read target bot reply")
			if e.pause(ctx, cfg.RetryDelay.Duration()) != nil {
				return false
			}
			continue
		}
		log.Debug().Stringer("outcome", outcome).Msg("Inspected target bot reply")
		switch outcome {
		case replyAccepted:
			log.Info().Msg("File accepted by target bot")
			return true
		case replyTimeout:
			log.Warn().Msg("Target bot reported a download timeout")
			if e.pause(ctx, cfg.RetryDelay.Duration()) != nil {
				return false
			}
			continue
		}

		if e.pause(ctx, cfg.SecondLookDelay.Duration()) != nil {
			return false
		}
		outcome, err = e.inspectReply(ctx, watermark)
		if err != nil {
			log.Err(err).Msg("Failed to read target bot reply")
			continue
		}
		switch outcome {
		case replyAccepted:
			log.Info().Msg("File accepted by target bot")
			return true
		case replyTimeout:
			log.Warn().Msg("Target bot reported a download timeout")
			if e.pause(ctx, cfg.RetryDelay.Duration()) != nil {
				return false
			}
			continue
		}
		if cfg.AssumeAcceptedWithoutReply {
			log.Info().Msg("No reply from target bot, assuming the file was accepted")
			return true
		}
		log.Warn().Msg("No reply from target bot")
	}
	log.Error().Int("max_retries", maxRetries).Msg("Giving up on forwarding file")
	return false
}

// deliver forwards entry and records it as forwarded. With the mailing gate
// enabled it also marks the mailing for this file as pending.
func (e *Engine) deliver(ctx context.Context, entry Entry) bool {
	if !e.ForwardWithRetry(ctx, entry, e.cfg.Forwarding.MaxRetries) {
		return false
	}
	if err := e.store.MarkForwarded(context.WithoutCancel(ctx), entry.FileName); err != nil {
		e.log.Err(err).Str("file_name", entry.FileName).Msg("Failed to record forwarded file")
	}
	if e.cfg.Watchdog.GateOnMailing {
		if err := e.store.WriteSyncFlag(context.WithoutCancel(ctx), false); err != nil {
			e.log.Err(err).Msg("Failed to reset mailing flag")
		}
		e.awaitingMailing.Store(true)
	}
	return true
}
