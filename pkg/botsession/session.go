// Copyright 2024-2026 Aiku AI

package botsession

import "context"

// Session is the raw conversation transport. Bots are addressed by username.
type Session interface {
	// RecentMessages returns up to limit of the newest messages in the
	// conversation with bot, newest first. When after is non-zero only
	// messages with a greater Seq are returned.
	RecentMessages(ctx context.Context, bot string, limit int, after int64) ([]*Message, error)
	SendText(ctx context.Context, bot, text string) error
	PressButton(ctx context.Context, bot string, msg *Message, btn Button) error
	// ForwardMessage relays msg and its files into the conversation with bot.
	ForwardMessage(ctx context.Context, bot string, msg *Message) error
}
