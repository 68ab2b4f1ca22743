// Package flow implements the interview dialogue engine: intent
// classification, slot validation, prompt construction, response generation,
// and the per-session state machine that ties them together.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrInvalidSession is returned when a turn is requested on a finished conversation.
	ErrInvalidSession = errors.New("conversation already finished")
	// ErrUnknownSlot is returned when a slot has no registered validator.
	ErrUnknownSlot = errors.New("no validator registered for slot")
	// ErrProfileNotSaved is returned when a completed interview could not be persisted.
	ErrProfileNotSaved = errors.New("completed profile was not saved")
	// ErrIncompleteProfile is returned when a completed profile misses configured slots.
	ErrIncompleteProfile = errors.New("profile does not cover every configured slot")
	// ErrMessageTooLarge is returned when an utterance exceeds models.MaxMessageBytes.
	ErrMessageTooLarge = errors.New("message too large")
)

// InternalError marks a failure the caller must see as an internal error
// rather than as a chat reply.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// FailureKind classifies a failure reported to the observability sink.
type FailureKind string

const (
	FailureGeneration    FailureKind = "generation"
	FailurePersistence   FailureKind = "persistence"
	FailureConfiguration FailureKind = "configuration"
)

// Failure is one operator-facing failure report.
type Failure struct {
	Kind      FailureKind
	SessionID string
	Slot      string
	Err       error
}

// FailureReporter receives failure reports. Implementations must not block the turn.
type FailureReporter interface {
	ReportFailure(ctx context.Context, f Failure)
}

// LogReporter is a FailureReporter that only logs.
type LogReporter struct{}

// ReportFailure logs the failure at error level.
func (LogReporter) ReportFailure(ctx context.Context, f Failure) {
	slog.Error("flow.ReportFailure", "kind", f.Kind, "sessionID", f.SessionID, "slot", f.Slot, "error", f.Err)
}
