// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/filerelay/pkg/botsession"
	"github.com/aiku/filerelay/pkg/store"
)

// Engine owns the file queue and runs the relay handlers and loops.
type Engine struct {
	cfg      *Config
	bots     *botsession.Facade
	observer botsession.Observer
	store    store.Store
	mailbox  store.Mailbox
	queue    *FileQueue
	log      zerolog.Logger

	sleep botsession.SleepFunc
	now   func() time.Time

	// pipeline serializes the command handlers and the auto-forward path.
	pipeline sync.Mutex
	// forwarding is held while a file is being delivered to the target bot.
	forwarding sync.Mutex
	// targetSeen is the Seq of the newest target bot message already
	// inspected, shared by the delivery path and the retry monitor.
	targetSeen atomic.Int64
	// awaitingMailing is set when a delivery reset the mailing flag.
	awaitingMailing atomic.Bool
}

type Option func(*Engine)

// WithClock replaces the wall clock and the sleep function.
func WithClock(now func() time.Time, sleep botsession.SleepFunc) Option {
	return func(e *Engine) {
		e.now = now
		e.sleep = sleep
	}
}

func NewEngine(
	cfg *Config,
	session botsession.Session,
	st store.Store,
	mailbox store.Mailbox,
	log zerolog.Logger,
	opts ...Option,
) (*Engine, error) {
	if cfg == nil || session == nil || st == nil || mailbox == nil {
		return nil, errors.New("relay: config, session, store and mailbox are required")
	}
	e := &Engine{
		cfg:     cfg,
		store:   st,
		mailbox: mailbox,
		queue:   NewFileQueue(),
		log:     log.With().Str("component", "relay").Logger(),
		sleep:   botsession.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if obs := cfg.Observer(); obs != nil {
		e.observer = obs
	} else {
		obs, err := botsession.NewPatternObserver(cfg.Signals)
		if err != nil {
			return nil, fmt.Errorf("failed to compile signal patterns: %w", err)
		}
		e.observer = obs
	}
	e.bots = botsession.NewFacade(session, cfg.SessionTimings(), e.sleep, log)
	return e, nil
}

// Queue exposes the file queue.
func (e *Engine) Queue() *FileQueue {
	return e.queue
}

func (e *Engine) pause(ctx context.Context, d time.Duration) error {
	return e.sleep(ctx, d)
}

// saveState records status together with the current queue snapshot. Store
// failures are logged and otherwise ignored.
func (e *Engine) saveState(ctx context.Context, status store.Status, lastForwarded string) {
	state := store.State{
		Status:     status,
		QueueCount: e.queue.Len(),
		Files:      e.queue.Names(),
		Timestamp:  store.UnixSeconds(e.now()),
	}
	if lastForwarded != "" {
		state.LastForwarded = &lastForwarded
	}
	if err := e.store.WriteState(context.WithoutCancel(ctx), state); err != nil {
		e.log.Err(err).Str("status", string(status)).Msg("Failed to save state")
		return
	}
	e.log.Info().
		Str("status", string(status)).
		Int("queue_count", state.QueueCount).
		Str("last_forwarded", lastForwarded).
		Msg("State updated")
}

func (e *Engine) readStatus(ctx context.Context) store.Status {
	state, err := e.store.ReadState(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read state, assuming idle")
		return store.StatusIdle
	}
	return state.Status
}

func (e *Engine) advanceTargetSeen(seq int64) {
	for {
		cur := e.targetSeen.Load()
		if seq <= cur || e.targetSeen.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Run restores the queue, publishes the idle state and runs the background
// loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	prev, err := e.store.ReadState(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read previous state")
		prev = store.DefaultState()
	}
	if e.cfg.Startup.RestoreQueue {
		e.restoreQueue(ctx, prev)
	}
	e.saveState(ctx, store.StatusIdle, "")
	e.log.Info().
		Str("source", e.cfg.Bots.Source).
		Str("target", e.cfg.Bots.Target).
		Int("queue_count", e.queue.Len()).
		Msg("Relay started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.loop(ctx, "command_listener", e.cfg.Watchdog.CommandInterval.Duration(), e.checkCommand)
	})
	retry := &retryMonitor{}
	g.Go(func() error {
		return e.loop(ctx, "retry_monitor", e.cfg.Watchdog.RetryInterval.Duration(), retry.tick(e))
	})
	completion := &completionMonitor{}
	g.Go(func() error {
		return e.loop(ctx, "completion_monitor", e.cfg.Watchdog.CompletionInterval.Duration(), completion.tick(e))
	})
	if e.cfg.Startup.AutostartParsing {
		g.Go(func() error {
			if err := e.HandleStartParsing(ctx); err != nil {
				e.log.Err(err).Msg("Autostart parsing failed")
			}
			return nil
		})
	}
	err = g.Wait()
	e.log.Info().Msg("Relay stopped")
	return err
}

// restoreQueue rebuilds the queue from the persisted file list by locating
// each file in the source bot history. Files that cannot be found or were
// forwarded meanwhile are dropped.
func (e *Engine) restoreQueue(ctx context.Context, prev store.State) {
	if len(prev.Files) == 0 && prev.LastForwarded == nil {
		return
	}
	msgs, err := e.bots.RecentMessages(ctx, e.cfg.Bots.Source, e.cfg.Startup.RestoreScanLimit, 0)
	if err != nil {
		e.log.Err(err).Strs("files", prev.Files).Msg("Failed to scan source history, queue not restored")
		return
	}
	byName := make(map[string]*botsession.Message, len(msgs))
	// Newest first, so the first occurrence of a name wins.
	for _, msg := range msgs {
		if msg.FromSelf {
			continue
		}
		if name := msg.FileName(); name != "" {
			if _, ok := byName[name]; !ok {
				byName[name] = msg
			}
		}
	}
	if prev.LastForwarded != nil {
		if msg, ok := byName[*prev.LastForwarded]; ok {
			e.queue.SetLastFile(Entry{Message: msg, FileName: *prev.LastForwarded})
		}
	}
	for _, name := range prev.Files {
		msg, ok := byName[name]
		if !ok {
			e.log.Warn().Str("file_name", name).Msg("Queued file not found in source history, dropping")
			continue
		}
		if forwarded, err := e.store.IsForwarded(ctx, name); err == nil && forwarded {
			e.log.Info().Str("file_name", name).Msg("Queued file was already forwarded, dropping")
			continue
		}
		if e.queue.Contains(name) {
			continue
		}
		e.queue.PushBack(Entry{Message: msg, FileName: name})
	}
	e.log.Info().Strs("files", e.queue.Names()).Msg("Restored file queue")
}
