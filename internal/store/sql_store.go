package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	name    string
	dollars bool
}

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetSession retrieves the conversation state for a session.
func (s *sqlStore) GetSession(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	query := s.rebind(`SELECT session_id, question_index, collected_data, status, version, created_at, updated_at
		FROM sessions WHERE session_id = ?`)

	var state models.ConversationState
	var data []byte
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&state.SessionID, &state.QuestionIndex, &data, &state.Status,
		&state.Version, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+" GetSession not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if state.CollectedData, err = unmarshalFields(data); err != nil {
		slog.Error(s.name+" GetSession decode failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	return &state, nil
}

// SaveSession inserts a new session (version 0) or updates an existing one
// whose stored version matches, bumping the version by one.
func (s *sqlStore) SaveSession(ctx context.Context, state models.ConversationState) (models.ConversationState, error) {
	if state.SessionID == "" {
		return state, models.ErrEmptySessionID
	}
	data, err := marshalFields(state.CollectedData)
	if err != nil {
		return state, err
	}
	// Timestamps are stored in UTC so idle-session cutoffs compare correctly.
	now := time.Now().UTC()
	createdAt := state.CreatedAt.UTC()
	if state.CreatedAt.IsZero() {
		createdAt = now
	}

	var res sql.Result
	if state.Version == 0 {
		res, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO sessions
			(session_id, question_index, collected_data, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (session_id) DO NOTHING`),
			state.SessionID, state.QuestionIndex, data, string(state.Status), createdAt, now)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE sessions
			SET question_index = ?, collected_data = ?, status = ?, version = version + 1, updated_at = ?
			WHERE session_id = ? AND version = ?`),
			state.QuestionIndex, data, string(state.Status), now, state.SessionID, state.Version)
	}
	if err != nil {
		slog.Error(s.name+" SaveSession failed", "error", err, "sessionID", state.SessionID, "version", state.Version)
		return state, fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return state, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Warn(s.name+" SaveSession version conflict", "sessionID", state.SessionID, "version", state.Version)
		return state, ErrVersionConflict
	}

	saved := state.Clone()
	saved.Version = state.Version + 1
	saved.CreatedAt = createdAt
	saved.UpdatedAt = now
	slog.Debug(s.name+" SaveSession succeeded", "sessionID", saved.SessionID, "version", saved.Version, "status", saved.Status)
	return saved, nil
}

// ListIdleSessions returns up to limit in-progress sessions last updated
// before the cutoff, least recently updated first.
func (s *sqlStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]models.ConversationState, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT session_id, question_index, collected_data, status, version, created_at, updated_at
		FROM sessions WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`),
		string(models.StatusInProgress), before.UTC(), normalizeLimit(limit))
	if err != nil {
		slog.Error(s.name+" ListIdleSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()

	var idle []models.ConversationState
	for rows.Next() {
		var state models.ConversationState
		var data []byte
		if err := rows.Scan(&state.SessionID, &state.QuestionIndex, &data, &state.Status,
			&state.Version, &state.CreatedAt, &state.UpdatedAt); err != nil {
			slog.Error(s.name+" ListIdleSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if state.CollectedData, err = unmarshalFields(data); err != nil {
			return nil, err
		}
		idle = append(idle, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug(s.name+" ListIdleSessions succeeded", "before", before, "count", len(idle))
	return idle, nil
}

// DeleteSession removes a session.
func (s *sqlStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE session_id = ?`), sessionID)
	if err != nil {
		slog.Error(s.name+" DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Debug(s.name+" DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// SaveProfile stores or replaces the profile of a session.
func (s *sqlStore) SaveProfile(ctx context.Context, profile models.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	data, err := marshalFields(profile.Fields)
	if err != nil {
		return err
	}
	savedAt := profile.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO profiles (session_id, outcome, fields, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET outcome = excluded.outcome, fields = excluded.fields, saved_at = excluded.saved_at`),
		profile.SessionID, string(profile.Outcome), data, savedAt)
	if err != nil {
		slog.Error(s.name+" SaveProfile failed", "error", err, "sessionID", profile.SessionID)
		return fmt.Errorf("failed to save profile for %s: %w", profile.SessionID, err)
	}
	slog.Debug(s.name+" SaveProfile succeeded", "sessionID", profile.SessionID, "outcome", profile.Outcome, "fields", len(profile.Fields))
	return nil
}

// GetProfile retrieves the saved profile of a session.
func (s *sqlStore) GetProfile(ctx context.Context, sessionID string) (*models.Profile, error) {
	var p models.Profile
	var data []byte
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT session_id, outcome, fields, saved_at FROM profiles WHERE session_id = ?`), sessionID).
		Scan(&p.SessionID, &p.Outcome, &data, &p.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		slog.Error(s.name+" GetProfile failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load profile for %s: %w", sessionID, err)
	}
	if p.Fields, err = unmarshalFields(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// AppendMessage stores one transcript message.
func (s *sqlStore) AppendMessage(ctx context.Context, msg models.TranscriptMessage) error {
	if msg.SessionID == "" {
		return models.ErrEmptySessionID
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO messages (session_id, sender, content, created_at) VALUES (?, ?, ?, ?)`),
		msg.SessionID, string(msg.Sender), msg.Content, createdAt)
	if err != nil {
		slog.Error(s.name+" AppendMessage failed", "error", err, "sessionID", msg.SessionID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.SessionID, err)
	}
	return nil
}

// GetHistory lists the first limit messages of a session in insertion order.
func (s *sqlStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.TranscriptMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT session_id, sender, content, created_at
		FROM messages WHERE session_id = ? ORDER BY id ASC LIMIT ?`), sessionID, normalizeLimit(limit))
	if err != nil {
		slog.Error(s.name+" GetHistory query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.TranscriptMessage
	for rows.Next() {
		var m models.TranscriptMessage
		if err := rows.Scan(&m.SessionID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			slog.Error(s.name+" GetHistory scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error(s.name+" GetHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug(s.name+" GetHistory succeeded", "sessionID", sessionID, "count", len(msgs))
	return msgs, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	}
	return err
}
