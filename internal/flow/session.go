package flow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/models"
	"github.com/BTreeMap/InterviewPipe/internal/store"
	"github.com/google/uuid"
)

// TranscriptWriter stores transcript messages. store.Store satisfies it.
type TranscriptWriter interface {
	AppendMessage(ctx context.Context, msg models.TranscriptMessage) error
}

// TurnObserver is notified once per handled turn.
type TurnObserver interface {
	ObserveTurn(outcome string, elapsed time.Duration)
}

// TurnResult is what the caller gets back from one turn.
type TurnResult struct {
	SessionID string
	Reply     string
	State     models.ConversationState
	// Started is set when the turn opened a new conversation.
	Started bool
}

// SessionRunner loads a session, runs one Interview turn against it, and
// stores the result with compare-and-swap so concurrent turns on the same
// session cannot silently overwrite each other.
type SessionRunner struct {
	interview  *Interview
	sessions   store.SessionStore
	transcript TranscriptWriter
	observer   TurnObserver
}

// SessionRunnerOption configures a SessionRunner.
type SessionRunnerOption func(*SessionRunner)

// WithTurnObserver registers an observer for turn outcomes.
func WithTurnObserver(o TurnObserver) SessionRunnerOption {
	return func(r *SessionRunner) { r.observer = o }
}

// NewSessionRunner creates a runner. transcript may be nil to disable transcripts.
func NewSessionRunner(iv *Interview, sessions store.SessionStore, transcript TranscriptWriter, opts ...SessionRunnerOption) *SessionRunner {
	r := &SessionRunner{interview: iv, sessions: sessions, transcript: transcript}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartSession opens a new conversation under a fresh session ID and returns
// the opening question.
func (r *SessionRunner) StartSession(ctx context.Context) (TurnResult, error) {
	start := time.Now()
	state := models.NewConversationState(uuid.NewString())
	res, err := r.open(ctx, state, "")
	r.observe(res, err, start)
	return res, err
}

// HandleMessage runs one turn for sessionID. A session that does not exist,
// or that has expired, is opened fresh and answered with the first question.
//
// Besides the Interview errors, HandleMessage returns ErrMessageTooLarge for
// oversized messages and store.ErrVersionConflict when another turn for the
// same session won the race. When the returned error is an *InternalError
// from a completed interview, the result is still valid and was stored.
func (r *SessionRunner) HandleMessage(ctx context.Context, sessionID, message string) (res TurnResult, err error) {
	start := time.Now()
	defer func() { r.observe(res, err, start) }()

	if sessionID == "" {
		return TurnResult{}, models.ErrEmptySessionID
	}
	if len(message) > models.MaxMessageBytes {
		slog.Warn("SessionRunner.HandleMessage: message too large", "sessionID", sessionID, "bytes", len(message))
		return TurnResult{SessionID: sessionID}, ErrMessageTooLarge
	}

	current, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return TurnResult{SessionID: sessionID}, fmt.Errorf("failed to load session: %w", err)
	}
	if current == nil {
		slog.Info("SessionRunner.HandleMessage: opening new session", "sessionID", sessionID)
		return r.open(ctx, models.NewConversationState(sessionID), message)
	}

	next, reply, turnErr := r.interview.Advance(ctx, *current, message)
	if turnErr != nil && reply == "" {
		return TurnResult{SessionID: sessionID, State: *current}, turnErr
	}

	saved, err := r.sessions.SaveSession(ctx, next)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return TurnResult{SessionID: sessionID, State: *current}, err
		}
		return TurnResult{SessionID: sessionID, State: *current}, fmt.Errorf("failed to save session: %w", err)
	}
	if saved.Status.IsTerminal() {
		// One active conversation per session: a finished one is cleared so
		// the next message starts over.
		if err := r.sessions.DeleteSession(ctx, sessionID); err != nil {
			slog.Warn("SessionRunner.HandleMessage: failed to clear finished session", "error", err, "sessionID", sessionID)
		}
	}

	r.record(ctx, sessionID, models.SenderUser, message)
	r.record(ctx, sessionID, models.SenderBot, reply)
	return TurnResult{SessionID: sessionID, Reply: reply, State: saved}, turnErr
}

// DefaultExpireBatch bounds how many idle sessions one sweep abandons.
const DefaultExpireBatch = 100

// ExpireIdle abandons in-progress sessions that have not been updated for
// idleFor, saving their partial profiles and clearing them from the session
// store. A session that receives a turn while being expired keeps the turn and
// is skipped. It returns how many sessions were expired.
func (r *SessionRunner) ExpireIdle(ctx context.Context, lister store.IdleSessionLister, idleFor time.Duration) (int, error) {
	idle, err := lister.ListIdleSessions(ctx, time.Now().Add(-idleFor), DefaultExpireBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	expired := 0
	for _, state := range idle {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		next, err := r.interview.Expire(state)
		if err != nil {
			continue
		}
		saved, err := r.sessions.SaveSession(ctx, next)
		if err != nil {
			if !errors.Is(err, store.ErrVersionConflict) {
				slog.Warn("SessionRunner.ExpireIdle: failed to save expired session", "error", err, "sessionID", state.SessionID)
			}
			continue
		}
		// The profile is written only after the abandoned state won the CAS,
		// so a session that took a turn meanwhile keeps no abandoned profile.
		r.interview.RecordAbandoned(ctx, saved)
		slog.Info("SessionRunner.ExpireIdle: idle session abandoned", "sessionID", saved.SessionID, "answered", len(saved.CollectedData))
		if err := r.sessions.DeleteSession(ctx, state.SessionID); err != nil {
			slog.Warn("SessionRunner.ExpireIdle: failed to clear expired session", "error", err, "sessionID", state.SessionID)
		}
		expired++
	}
	if expired > 0 {
		slog.Info("SessionRunner.ExpireIdle: expired idle sessions", "count", expired, "idle_for", idleFor)
	}
	return expired, nil
}

func (r *SessionRunner) open(ctx context.Context, state models.ConversationState, message string) (TurnResult, error) {
	reply := r.interview.Start(ctx, state)
	saved, err := r.sessions.SaveSession(ctx, state)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return TurnResult{SessionID: state.SessionID}, err
		}
		return TurnResult{SessionID: state.SessionID}, fmt.Errorf("failed to create session: %w", err)
	}
	if message != "" {
		r.record(ctx, state.SessionID, models.SenderUser, message)
	}
	r.record(ctx, state.SessionID, models.SenderBot, reply)
	slog.Info("SessionRunner: session started", "sessionID", state.SessionID)
	return TurnResult{SessionID: state.SessionID, Reply: reply, State: saved, Started: true}, nil
}

// record appends a transcript message, HTML-escaped at rest. Failures are logged only.
func (r *SessionRunner) record(ctx context.Context, sessionID string, sender models.Sender, content string) {
	if r.transcript == nil {
		return
	}
	msg := models.TranscriptMessage{
		SessionID: sessionID,
		Sender:    sender,
		Content:   html.EscapeString(content),
		CreatedAt: time.Now(),
	}
	if err := r.transcript.AppendMessage(ctx, msg); err != nil {
		slog.Warn("SessionRunner.record: failed to append transcript", "error", err, "sessionID", sessionID, "sender", sender)
	}
}

func (r *SessionRunner) observe(res TurnResult, err error, start time.Time) {
	if r.observer == nil {
		return
	}
	outcome := string(res.State.Status)
	var internal *InternalError
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		outcome = "conflict"
	case errors.Is(err, ErrMessageTooLarge):
		outcome = "rejected"
	case errors.As(err, &internal), err != nil && res.Reply == "":
		outcome = "error"
	case outcome == "":
		outcome = string(models.StatusInProgress)
	}
	r.observer.ObserveTurn(outcome, time.Since(start))
}
