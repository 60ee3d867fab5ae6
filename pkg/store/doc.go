// Copyright 2024-2026 Aiku AI

// Package store persists the relay's orchestration records: the parsing
// state, the single-slot command mailbox, the registry of already forwarded
// file names, the retry flag and the cross-process mailing flag.
//
// Every record keeps the JSON shape the external tooling reads, whichever
// backend holds it. [FileStore] keeps one file per record in a data
// directory and serializes read-modify-write cycles with advisory file
// locks. [RedisStore] keeps the same documents under prefixed keys and uses
// atomic Redis commands for the consume-once records.
package store
