// Copyright 2024-2026 Aiku AI

package store

import (
	"math"
	"time"
)

// Status is a lifecycle label of the orchestration state.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusParsingFirst       Status = "parsing_first"
	StatusFirstFileForwarded Status = "first_file_forwarded"
	StatusParsingSecond      Status = "parsing_second"
	StatusWaitingOneFile     Status = "waiting_one_file"
	StatusWaitingForMailing  Status = "waiting_for_mailing"
	StatusSendingNextFile    Status = "sending_next_file"
	StatusFileForwarded      Status = "file_forwarded"
	StatusParsingNext        Status = "parsing_next"
	StatusWaitingCommand     Status = "waiting_command"
	StatusFileAutoForwarded  Status = "file_auto_forwarded"
	StatusError              Status = "error"
	StatusErrorNoFile        Status = "error_no_file"
	StatusErrorForwardFailed Status = "error_forward_failed"
	StatusErrorQueueEmpty    Status = "error_queue_empty"
)

// IsFree reports whether a queued file may be forwarded automatically while
// the pipeline is in this status.
func (s Status) IsFree() bool {
	switch s {
	case StatusWaitingOneFile, StatusWaitingForMailing, StatusIdle, StatusErrorQueueEmpty:
		return true
	default:
		return false
	}
}

// State is the persisted orchestration record. It is overwritten on every
// transition and never deleted.
type State struct {
	Status        Status   `json:"status"`
	QueueCount    int      `json:"queue_count"`
	Files         []string `json:"files"`
	LastForwarded *string  `json:"last_forwarded"`
	Timestamp     float64  `json:"timestamp"`
}

// DefaultState is what readers get when no state has been written yet.
func DefaultState() State {
	return State{Status: StatusIdle, Files: []string{}}
}

// CommandKind names an operator request.
type CommandKind string

const (
	CommandStartParsing CommandKind = "start_parsing"
	CommandSendNextFile CommandKind = "send_next_file"
)

// Command is the single-slot mailbox record.
type Command struct {
	Kind      CommandKind `json:"command"`
	UserID    int64       `json:"user_id"`
	Timestamp float64     `json:"timestamp"`
}

// ForwardRecord is the value stored per file name in the forwarded registry.
type ForwardRecord struct {
	Forwarded bool `json:"forwarded"`
}

// RetryFlag asks the relay to resend the last forwarded file.
type RetryFlag struct {
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// SyncState carries the cross-process mailing signal. A missing field means
// no mailing is running.
type SyncState struct {
	MailingCompleted *bool `json:"mailing_completed,omitempty"`
}

// Completed returns the mailing flag with its default applied.
func (s SyncState) Completed() bool {
	if s.MailingCompleted == nil {
		return true
	}
	return *s.MailingCompleted
}

// UnixSeconds converts t to the fractional epoch seconds used in records.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds is the inverse of UnixSeconds.
func FromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

// isFresh reports whether the flag was raised less than ttl before now. A
// flag without a timestamp is never fresh.
func (f RetryFlag) isFresh(now time.Time, ttl time.Duration) bool {
	if f.Timestamp == nil {
		return false
	}
	return now.Sub(FromUnixSeconds(*f.Timestamp)) < ttl
}
