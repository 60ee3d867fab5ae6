// Copyright 2024-2026 Aiku AI

// Package botsession drives conversations with automated bot accounts on a
// Mattermost server.
//
// The relay logs in as a regular user and talks to every bot in its direct
// message channel. A [Session] is the raw transport: list recent posts, send
// text, press an interactive button and forward a post (with its files) to
// another bot. [Facade] layers the operations the orchestration engine needs
// on top of it, handling flood control the way the server asks for it.
// [Observer] classifies bot replies so callers never match literal text.
//
// # Message mapping
//
//   - message: a post in the DM channel, ordered by its creation time
//   - document: the first file attached to the post
//   - inline button: an interactive action in a message attachment, whose
//     payload is the "callback_data" integration context value or else the
//     action ID
//   - flood control: HTTP 429, surfaced as [*RateLimitedError]
package botsession
