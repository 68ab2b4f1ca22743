package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// Fixed replies.
const (
	DefaultCompletionMessage = "Thank you for completing the interview!"
	DefaultExitMessage       = "Thank you for your time. The interview has ended."
	DefaultRestartMessage    = "No problem, let's start over from the first question."
)

// Interview is the per-turn dialogue state machine. It holds no per-session
// state and is safe for concurrent use.
type Interview struct {
	spec      models.QuestionSpec
	validator *SlotValidator
	prompts   *PromptBuilder
	responder *ResponseGenerator
	profiles  *ProfileRecorder
	reporter  FailureReporter

	completionMessage string
	exitMessage       string
	restartMessage    string
}

// InterviewOption configures an Interview.
type InterviewOption func(*Interview)

// WithCompletionMessage overrides the reply sent when the interview completes.
func WithCompletionMessage(msg string) InterviewOption {
	return func(iv *Interview) {
		if msg != "" {
			iv.completionMessage = msg
		}
	}
}

// WithExitMessage overrides the reply sent when the user leaves.
func WithExitMessage(msg string) InterviewOption {
	return func(iv *Interview) {
		if msg != "" {
			iv.exitMessage = msg
		}
	}
}

// WithRestartMessage overrides the reply sent on restart.
func WithRestartMessage(msg string) InterviewOption {
	return func(iv *Interview) {
		if msg != "" {
			iv.restartMessage = msg
		}
	}
}

// WithFailureReporter sets where configuration and persistence failures are reported.
func WithFailureReporter(r FailureReporter) InterviewOption {
	return func(iv *Interview) {
		if r != nil {
			iv.reporter = r
		}
	}
}

// NewInterview assembles the state machine for spec.
func NewInterview(spec models.QuestionSpec, prompts *PromptBuilder, responder *ResponseGenerator, profiles *ProfileRecorder, opts ...InterviewOption) (*Interview, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid question spec: %w", err)
	}
	if prompts == nil || responder == nil || profiles == nil {
		return nil, fmt.Errorf("interview requires a prompt builder, response generator and profile recorder")
	}
	iv := &Interview{
		spec:              spec,
		validator:         NewSlotValidator(spec),
		prompts:           prompts,
		responder:         responder,
		profiles:          profiles,
		reporter:          LogReporter{},
		completionMessage: DefaultCompletionMessage,
		exitMessage:       DefaultExitMessage,
		restartMessage:    DefaultRestartMessage,
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv, nil
}

// Start returns the opening prompt for a fresh session.
func (iv *Interview) Start(ctx context.Context, state models.ConversationState) string {
	return iv.responder.Generate(ctx, state.SessionID, iv.prompts.Build(state))
}

// Advance processes one utterance and returns the next state and the reply.
// The input state is never modified.
//
// A user validation failure is not an error: the state comes back unchanged
// and the reply carries the validation message. Errors are returned for
// finished sessions (ErrInvalidSession), slots without a validator, and
// completed profiles that could not be saved; the last two are wrapped in
// *InternalError.
func (iv *Interview) Advance(ctx context.Context, state models.ConversationState, utterance string) (models.ConversationState, string, error) {
	if state.Status.IsTerminal() {
		slog.Warn("Interview.Advance: turn on finished session", "sessionID", state.SessionID, "status", state.Status)
		return state, "", ErrInvalidSession
	}

	next := state.Clone()
	next.Status = models.StatusInProgress
	if next.QuestionIndex < 0 {
		next.QuestionIndex = 0
	}
	if next.QuestionIndex > len(iv.spec) {
		next.QuestionIndex = len(iv.spec)
	}

	intent := ClassifyIntent(utterance)
	slog.Debug("Interview.Advance", "sessionID", state.SessionID, "intent", intent, "questionIndex", next.QuestionIndex)

	switch intent {
	case models.IntentLeave:
		return iv.leave(ctx, next)
	case models.IntentRestart:
		next.QuestionIndex = 0
		next.CollectedData = make(map[string]models.SlotValue)
		return next, iv.restartMessage, nil
	case models.IntentSkip:
		if next.QuestionIndex < len(iv.spec) {
			next.QuestionIndex++
		}
		return next, iv.ask(ctx, next), nil
	default:
		if next.QuestionIndex >= len(iv.spec) {
			return iv.complete(ctx, next)
		}
		return iv.answer(ctx, next, utterance)
	}
}

func (iv *Interview) ask(ctx context.Context, state models.ConversationState) string {
	return iv.responder.Generate(ctx, state.SessionID, iv.prompts.Build(state))
}

func (iv *Interview) answer(ctx context.Context, next models.ConversationState, utterance string) (models.ConversationState, string, error) {
	slot := iv.spec[next.QuestionIndex].Slot
	outcome, err := iv.validator.Validate(slot, utterance)
	if err != nil {
		iv.reporter.ReportFailure(ctx, Failure{Kind: FailureConfiguration, SessionID: next.SessionID, Slot: slot, Err: err})
		return next, "", &InternalError{Op: "validate slot " + slot, Err: err}
	}
	if !outcome.Valid {
		slog.Debug("Interview.Advance: validation failed", "sessionID", next.SessionID, "slot", slot)
		return next, outcome.Message, nil
	}

	next.CollectedData[slot] = outcome.Value
	next.QuestionIndex++
	return next, iv.ask(ctx, next), nil
}

// Expire returns state moved to abandoned, as a leave request would, without
// saving anything or producing a reply. Once the abandoned state is stored,
// RecordAbandoned saves its partial profile.
func (iv *Interview) Expire(state models.ConversationState) (models.ConversationState, error) {
	if state.Status.IsTerminal() {
		return state, ErrInvalidSession
	}
	next := state.Clone()
	next.Status = models.StatusAbandoned
	return next, nil
}

// RecordAbandoned saves the partial profile of an abandoned session. Sessions
// without answers save nothing, and a failed save is reported only.
func (iv *Interview) RecordAbandoned(ctx context.Context, state models.ConversationState) {
	if len(state.CollectedData) == 0 {
		return
	}
	if err := iv.profiles.Record(ctx, state.SessionID, models.ProfileOutcomeAbandoned, state.CollectedData); err != nil {
		iv.reporter.ReportFailure(ctx, Failure{Kind: FailurePersistence, SessionID: state.SessionID, Err: err})
	}
}

func (iv *Interview) leave(ctx context.Context, next models.ConversationState) (models.ConversationState, string, error) {
	next.Status = models.StatusAbandoned
	iv.RecordAbandoned(ctx, next)
	slog.Info("Interview.Advance: session abandoned", "sessionID", next.SessionID, "answered", len(next.CollectedData))
	return next, iv.exitMessage, nil
}

func (iv *Interview) complete(ctx context.Context, next models.ConversationState) (models.ConversationState, string, error) {
	next.Status = models.StatusCompleted
	if err := iv.profiles.Record(ctx, next.SessionID, models.ProfileOutcomeCompleted, next.CollectedData); err != nil {
		iv.reporter.ReportFailure(ctx, Failure{Kind: FailurePersistence, SessionID: next.SessionID, Err: err})
		return next, iv.completionMessage, &InternalError{Op: "save completed profile", Err: errors.Join(ErrProfileNotSaved, err)}
	}
	slog.Info("Interview.Advance: session completed", "sessionID", next.SessionID)
	return next, iv.completionMessage, nil
}
