// Copyright 2024-2026 Aiku AI

// Package relay drives the file relay between the source bot, which produces
// data files on request, and the target bot, which ingests them.
//
// The Engine runs three background loops next to each other: a command
// listener that executes operator commands from the store mailbox, a retry
// monitor that resends the last forwarded file when the consumer reports a
// download timeout or a retry is requested, and a completion monitor that
// forwards the next queued file once the previous work is done. Handlers that
// run parsing cycles are serialized through a single pipeline lock.
package relay
