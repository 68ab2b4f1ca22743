package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// DefaultProfileSaveTimeout bounds one profile save.
const DefaultProfileSaveTimeout = 10 * time.Second

// ProfileSaver persists profiles. store.Store satisfies it.
type ProfileSaver interface {
	SaveProfile(ctx context.Context, profile models.Profile) error
}

// ProfileRecorder saves interview results. Completed profiles must cover
// every configured slot; abandoned profiles may be partial.
type ProfileRecorder struct {
	saver   ProfileSaver
	spec    models.QuestionSpec
	timeout time.Duration
}

// NewProfileRecorder creates a recorder. A non-positive timeout selects DefaultProfileSaveTimeout.
func NewProfileRecorder(saver ProfileSaver, spec models.QuestionSpec, timeout time.Duration) *ProfileRecorder {
	if timeout <= 0 {
		timeout = DefaultProfileSaveTimeout
	}
	return &ProfileRecorder{saver: saver, spec: spec, timeout: timeout}
}

// Record saves the collected fields of a session with the given outcome.
func (r *ProfileRecorder) Record(ctx context.Context, sessionID string, outcome models.ProfileOutcome, fields map[string]models.SlotValue) error {
	if outcome == models.ProfileOutcomeCompleted {
		if missing := r.spec.MissingSlots(fields); len(missing) > 0 {
			slog.Warn("ProfileRecorder.Record: incomplete profile", "sessionID", sessionID, "missing", missing)
			return fmt.Errorf("%w: missing %s", ErrIncompleteProfile, strings.Join(missing, ", "))
		}
	}
	if r.saver == nil {
		return fmt.Errorf("profile store not configured")
	}

	profile := models.Profile{
		SessionID: sessionID,
		Outcome:   outcome,
		Fields:    make(map[string]models.SlotValue, len(fields)),
		SavedAt:   time.Now(),
	}
	for k, v := range fields {
		profile.Fields[k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.saver.SaveProfile(ctx, profile); err != nil {
		slog.Error("ProfileRecorder.Record: save failed", "error", err, "sessionID", sessionID, "outcome", outcome)
		return fmt.Errorf("failed to save profile: %w", err)
	}
	slog.Info("ProfileRecorder.Record: profile saved", "sessionID", sessionID, "outcome", outcome, "fields", len(profile.Fields))
	return nil
}
