// Package models defines state management structures for InterviewPipe conversations.
package models

import (
	"strconv"
	"time"
)

// ConversationStatus is the lifecycle status of one interview session.
type ConversationStatus string

const (
	StatusInProgress ConversationStatus = "in_progress"
	StatusCompleted  ConversationStatus = "completed"
	StatusAbandoned  ConversationStatus = "abandoned"
)

// IsTerminal reports whether no further turns may be processed in this status.
func (s ConversationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// ValueType is the semantic type of a validated slot value.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeInteger ValueType = "integer"
)

// SlotValue is a validated answer. Integers are kept apart from text so that
// a JSON round trip through a session store never turns them into floats.
type SlotValue struct {
	Type ValueType `json:"type"`
	Text string    `json:"text,omitempty"`
	Int  int64     `json:"int,omitempty"`
}

// StringValue wraps a validated string answer.
func StringValue(s string) SlotValue {
	return SlotValue{Type: ValueTypeString, Text: s}
}

// IntValue wraps a validated integer answer.
func IntValue(n int64) SlotValue {
	return SlotValue{Type: ValueTypeInteger, Int: n}
}

// String renders the value for prompts and logs.
func (v SlotValue) String() string {
	if v.Type == ValueTypeInteger {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Text
}

// ConversationState is the per-session interview state. It is passed into and
// returned from each turn; durability belongs to the session store.
type ConversationState struct {
	SessionID     string               `json:"session_id"`
	QuestionIndex int                  `json:"question_index"`
	CollectedData map[string]SlotValue `json:"collected_data"`
	Status        ConversationStatus   `json:"status"`
	// Version is the compare-and-swap token maintained by the session store.
	// Zero means the state has never been saved.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState returns the initial state of a session: in progress,
// at the first question, with nothing collected.
func NewConversationState(sessionID string) ConversationState {
	now := time.Now()
	return ConversationState{
		SessionID:     sessionID,
		QuestionIndex: 0,
		CollectedData: make(map[string]SlotValue),
		Status:        StatusInProgress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy so a turn can build its result without touching the input.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.CollectedData = make(map[string]SlotValue, len(s.CollectedData))
	for k, v := range s.CollectedData {
		out.CollectedData[k] = v
	}
	return out
}

// Intent is the control meaning of an utterance.
type Intent string

const (
	IntentLeave    Intent = "leave"
	IntentRestart  Intent = "restart"
	IntentSkip     Intent = "skip"
	IntentContinue Intent = "continue"
)

// ValidationOutcome is either a validated value or a user-facing failure message.
type ValidationOutcome struct {
	Value   SlotValue
	Valid   bool
	Message string
}

// Valid returns a successful outcome carrying v.
func Valid(v SlotValue) ValidationOutcome {
	return ValidationOutcome{Value: v, Valid: true}
}

// Invalid returns a failed outcome carrying a message to show the user.
func Invalid(message string) ValidationOutcome {
	return ValidationOutcome{Message: message}
}
