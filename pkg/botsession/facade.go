// Copyright 2024-2026 Aiku AI

package botsession

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Timings tunes the pauses of the facade operations.
type Timings struct {
	// SendPause is waited after a successful send or click.
	SendPause time.Duration
	// ClickRetryDelay is waited between button scans.
	ClickRetryDelay time.Duration
	// ClickScanLimit is how many recent messages are searched for a button.
	ClickScanLimit int
	// FloodAttempts bounds how often a rate limited call is made.
	FloodAttempts int
}

func DefaultTimings() Timings {
	return Timings{
		SendPause:       time.Second,
		ClickRetryDelay: 2 * time.Second,
		ClickScanLimit:  5,
		FloodAttempts:   2,
	}
}

// Facade offers the bot operations the relay needs on top of a Session.
type Facade struct {
	session Session
	timings Timings
	sleep   SleepFunc
	log     zerolog.Logger
}

// NewFacade creates a facade. A nil sleep uses Sleep.
func NewFacade(session Session, timings Timings, sleep SleepFunc, log zerolog.Logger) *Facade {
	if sleep == nil {
		sleep = Sleep
	}
	if timings.FloodAttempts <= 0 {
		timings.FloodAttempts = 1
	}
	if timings.ClickScanLimit <= 0 {
		timings.ClickScanLimit = DefaultTimings().ClickScanLimit
	}
	return &Facade{
		session: session,
		timings: timings,
		sleep:   sleep,
		log:     log.With().Str("component", "bot_facade").Logger(),
	}
}

// withFloodRetry repeats fn after the server-mandated delay while it is rate
// limited, at most FloodAttempts times in total. The last rate limit error is
// returned to the caller along with the time spent waiting.
func (f *Facade) withFloodRetry(ctx context.Context, op string, fn func() error) (time.Duration, error) {
	var waited time.Duration
	var err error
	for attempt := 1; attempt <= f.timings.FloodAttempts; attempt++ {
		err = fn()
		rl, ok := AsRateLimited(err)
		if !ok || attempt == f.timings.FloodAttempts {
			return waited, err
		}
		f.log.Warn().
			Str("op", op).
			Dur("retry_after", rl.RetryAfter).
			Int("attempt", attempt).
			Msg("Flood control, waiting before retry")
		if sleepErr := f.sleep(ctx, rl.RetryAfter); sleepErr != nil {
			return waited, sleepErr
		}
		waited += rl.RetryAfter
	}
	return waited, err
}

// RecentMessages returns up to limit of the newest messages from bot, newest
// first, restricted to Seq > after when after is non-zero.
func (f *Facade) RecentMessages(ctx context.Context, bot string, limit int, after int64) ([]*Message, error) {
	msgs, _, err := f.PollMessages(ctx, bot, limit, after)
	return msgs, err
}

// PollMessages is RecentMessages that also reports how long it waited out
// flood control, so callers polling against a deadline can extend it.
func (f *Facade) PollMessages(ctx context.Context, bot string, limit int, after int64) ([]*Message, time.Duration, error) {
	var msgs []*Message
	waited, err := f.withFloodRetry(ctx, "recent_messages", func() error {
		var err error
		msgs, err = f.session.RecentMessages(ctx, bot, limit, after)
		return err
	})
	return msgs, waited, err
}

// LatestSeq returns the Seq of the newest message from bot, or 0.
func (f *Facade) LatestSeq(ctx context.Context, bot string) (int64, error) {
	msgs, err := f.RecentMessages(ctx, bot, 1, 0)
	if err != nil {
		return 0, err
	}
	return MaxSeq(msgs, 0), nil
}

// SendText sends text to bot and reports whether it was delivered.
func (f *Facade) SendText(ctx context.Context, bot, text string) bool {
	_, err := f.withFloodRetry(ctx, "send_text", func() error {
		return f.session.SendText(ctx, bot, text)
	})
	if err != nil {
		f.log.Err(err).Str("bot", bot).Str("text", text).Msg("Failed to send message")
		return false
	}
	f.log.Info().Str("bot", bot).Str("text", text).Msg("Sent message")
	_ = f.sleep(ctx, f.timings.SendPause)
	return true
}

// ClickButton scans the latest messages from bot for a button with the given
// payload and presses it. It scans up to maxAttempts times.
func (f *Facade) ClickButton(ctx context.Context, bot, payload string, maxAttempts int) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if f.tryClick(ctx, bot, payload) {
			_ = f.sleep(ctx, f.timings.SendPause)
			return true
		}
		f.log.Warn().
			Str("bot", bot).
			Str("payload", payload).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Button not found")
		if err := f.sleep(ctx, f.timings.ClickRetryDelay); err != nil {
			return false
		}
	}
	f.log.Error().Str("bot", bot).Str("payload", payload).Msg("Giving up on button")
	return false
}

func (f *Facade) tryClick(ctx context.Context, bot, payload string) bool {
	msgs, err := f.RecentMessages(ctx, bot, f.timings.ClickScanLimit, 0)
	if err != nil {
		f.log.Err(err).Str("bot", bot).Msg("Failed to scan messages for button")
		return false
	}
	for _, msg := range msgs {
		btn, ok := msg.FindButton(payload)
		if !ok {
			continue
		}
		_, err = f.withFloodRetry(ctx, "press_button", func() error {
			return f.session.PressButton(ctx, bot, msg, btn)
		})
		if err != nil {
			f.log.Err(err).Str("bot", bot).Str("payload", payload).Msg("Failed to press button")
			return false
		}
		f.log.Info().Str("bot", bot).Str("payload", payload).Msg("Pressed button")
		return true
	}
	return false
}

// ForwardMessage relays msg to bot. Failures are returned as-is and are not
// retried here.
func (f *Facade) ForwardMessage(ctx context.Context, bot string, msg *Message) error {
	return f.session.ForwardMessage(ctx, bot, msg)
}
