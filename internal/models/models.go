// Package models defines the core data structures for InterviewPipe.
//
// It includes the interview question spec, per-session conversation state,
// saved profiles, transcript messages, and API response envelopes shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBytes is the largest accepted utterance, measured in UTF-8 bytes.
	MaxMessageBytes = 100000
	// DefaultHistoryLimit is the number of transcript messages returned when no limit is given.
	DefaultHistoryLimit = 50
)

// Error variables for better error handling and testability
var (
	ErrEmptySessionID     = errors.New("session ID cannot be empty")
	ErrEmptyQuestionSpec  = errors.New("question spec must contain at least one question")
	ErrEmptySlot          = errors.New("question slot cannot be empty")
	ErrDuplicateSlot      = errors.New("duplicate question slot")
	ErrEmptyQuestionText  = errors.New("question prompt cannot be empty")
	ErrNegativeExperience = errors.New("experience cannot be negative")
)

// ProfileOutcome records how the interview that produced a profile ended.
type ProfileOutcome string

const (
	// ProfileOutcomeCompleted marks a profile from an interview that answered every question.
	ProfileOutcomeCompleted ProfileOutcome = "completed"
	// ProfileOutcomeAbandoned marks a partial profile saved when the user left early.
	ProfileOutcomeAbandoned ProfileOutcome = "abandoned"
)

// Profile is the record persisted when an interview reaches a terminal state.
type Profile struct {
	SessionID string               `json:"session_id"`
	Outcome   ProfileOutcome       `json:"outcome"`
	Fields    map[string]SlotValue `json:"fields"`
	SavedAt   time.Time            `json:"saved_at"`
}

// Validate checks the profile fields that the store enforces regardless of the question spec.
func (p Profile) Validate() error {
	if p.SessionID == "" {
		return ErrEmptySessionID
	}
	if v, ok := p.Fields[string(SlotKindExperience)]; ok && v.Type == ValueTypeInteger && v.Int < 0 {
		return ErrNegativeExperience
	}
	return nil
}

// Sender identifies who wrote a transcript message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// TranscriptMessage is one stored line of a conversation.
type TranscriptMessage struct {
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
