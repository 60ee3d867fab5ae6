// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/aiku/filerelay/pkg/botsession"
)

// RunParsingCycle asks the source bot for a new file: it sends the search
// command, opens the preset, launches it and waits for the resulting document.
// Files that are already queued or were forwarded before are not returned.
func (e *Engine) RunParsingCycle(ctx context.Context) (*Entry, error) {
	p := e.cfg.Parsing
	source := e.cfg.Bots.Source
	e.log.Info().Str("bot", source).Msg("Starting parsing cycle")

	if !e.bots.SendText(ctx, source, p.SearchText) {
		return nil, fmt.Errorf("%w: search command was not sent", ErrCycleAborted)
	}
	if err := e.pause(ctx, p.StepDelay.Duration()); err != nil {
		return nil, err
	}

	if p.ShowPresetPayload != "" && !e.bots.ClickButton(ctx, source, p.ShowPresetPayload, p.ClickAttempts) {
		e.log.Warn().Msg("Preset button not pressed, trying to launch anyway")
	}
	if err := e.pause(ctx, p.StepDelay.Duration()); err != nil {
		return nil, err
	}

	watermark, err := e.bots.LatestSeq(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read source bot history: %w", ErrCycleAborted, err)
	}
	if !e.bots.ClickButton(ctx, source, p.RunPresetPayload, p.ClickAttempts) {
		return nil, fmt.Errorf("%w: launch button was not pressed", ErrCycleAborted)
	}
	if err = e.pause(ctx, p.LaunchDelay.Duration()); err != nil {
		return nil, err
	}
	return e.awaitFile(ctx, watermark)
}

// awaitFile polls the source bot for a document newer than after until the
// file timeout elapses. Time spent waiting out flood control does not count
// against the timeout.
func (e *Engine) awaitFile(ctx context.Context, after int64) (*Entry, error) {
	p := e.cfg.Parsing
	source := e.cfg.Bots.Source
	deadline := e.now().Add(p.FileTimeout.Duration())
	e.log.Info().Dur("timeout", p.FileTimeout.Duration()).Msg("Waiting for file")

	for e.now().Before(deadline) {
		msgs, waited, err := e.bots.PollMessages(ctx, source, p.FileScanLimit, after)
		if waited > 0 {
			deadline = deadline.Add(waited)
			e.log.Debug().Dur("waited", waited).Msg("Extended file timeout by flood wait")
		}
		if rl, ok := botsession.AsRateLimited(err); ok {
			wait := rl.RetryAfter + time.Second
			deadline = deadline.Add(wait)
			e.log.Warn().Dur("retry_after", wait).Msg("Flood control while waiting for file")
			if err = e.pause(ctx, wait); err != nil {
				return nil, err
			}
			continue
		} else if err != nil {
			e.log.Err(err).Msg("Failed to poll source bot for file")
		} else if entry := e.pickFile(ctx, msgs); entry != nil {
			e.log.Info().Str("file_name", entry.FileName).Msg("File received")
			return entry, nil
		}
		if err = e.pause(ctx, p.FilePollInterval.Duration()); err != nil {
			return nil, err
		}
	}
	e.log.Warn().Msg("No file received before timeout")
	return nil, ErrFileTimeout
}

func (e *Engine) pickFile(ctx context.Context, msgs []*botsession.Message) *Entry {
	for _, msg := range msgs {
		if msg.FromSelf {
			continue
		}
		name := msg.FileName()
		if name == "" {
			continue
		}
		if e.queue.Contains(name) {
			e.log.Debug().Str("file_name", name).Msg("Skipping file that is already queued")
			continue
		}
		forwarded, err := e.store.IsForwarded(ctx, name)
		if err != nil {
			e.log.Warn().Err(err).Str("file_name", name).Msg("Failed to check forwarded files")
		} else if forwarded {
			e.log.Debug().Str("file_name", name).Msg("Skipping file that was already forwarded")
			continue
		}
		return &Entry{Message: msg, FileName: name}
	}
	return nil
}
