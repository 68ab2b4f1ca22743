package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is how long an idle session survives in Redis.
const DefaultSessionTTL = 24 * time.Hour

const (
	redisSessionPrefix = "interview:session:"
	// redisActivityKey is a sorted set of session IDs scored by last update
	// (Unix milliseconds), used to find idle sessions.
	redisActivityKey = "interview:sessions:activity"
)

// saveSessionScript writes the session only when the stored version equals
// ARGV[2] (a missing key counts as version 0) and records its activity time.
// It returns the new version, or -1 on conflict.
var saveSessionScript = redis.NewScript(`
	local key = KEYS[1]
	local expected = tonumber(ARGV[2])
	local current = tonumber(redis.call('HGET', key, 'version') or '0')
	if current ~= expected then
		return -1
	end
	local next = expected + 1
	redis.call('HSET', key, 'version', next, 'data', ARGV[1])
	redis.call('PEXPIRE', key, ARGV[3])
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
	return next
`)

// RedisSessionStore keeps conversation state in Redis hashes with a sliding TTL.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var (
	_ SessionStore      = (*RedisSessionStore)(nil)
	_ IdleSessionLister = (*RedisSessionStore)(nil)
)

// NewRedisSessionStore creates a Redis-backed session store. A non-positive
// ttl selects DefaultSessionTTL.
func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return redisSessionPrefix + sessionID
}

// GetSession loads a session, returning nil when it does not exist or has expired.
func (s *RedisSessionStore) GetSession(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	data, err := s.rdb.HGet(ctx, s.key(sessionID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisSessionStore.GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var state models.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if state.CollectedData == nil {
		state.CollectedData = make(map[string]models.SlotValue)
	}
	return &state, nil
}

// SaveSession writes state if the stored version still matches state.Version.
func (s *RedisSessionStore) SaveSession(ctx context.Context, state models.ConversationState) (models.ConversationState, error) {
	if state.SessionID == "" {
		return state, models.ErrEmptySessionID
	}
	saved := state.Clone()
	saved.Version = state.Version + 1
	saved.UpdatedAt = time.Now()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = saved.UpdatedAt
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return state, fmt.Errorf("marshal session: %w", err)
	}

	result, err := saveSessionScript.Run(ctx, s.rdb, []string{s.key(state.SessionID), redisActivityKey},
		data, state.Version, s.ttl.Milliseconds(), saved.UpdatedAt.UnixMilli(), state.SessionID).Int64()
	if err != nil {
		slog.Error("RedisSessionStore.SaveSession script failed", "error", err, "sessionID", state.SessionID)
		return state, fmt.Errorf("redis script: %w", err)
	}
	if result == -1 {
		slog.Warn("RedisSessionStore.SaveSession version conflict", "sessionID", state.SessionID, "version", state.Version)
		return state, ErrVersionConflict
	}
	slog.Debug("RedisSessionStore.SaveSession succeeded", "sessionID", state.SessionID, "version", result)
	return saved, nil
}

// DeleteSession removes a session.
func (s *RedisSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, redisActivityKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisSessionStore.DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// ListIdleSessions returns up to limit in-progress sessions last updated before
// the cutoff, least recently updated first. Index entries whose session key
// has already expired are dropped along the way.
func (s *RedisSessionStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]models.ConversationState, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, redisActivityKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(normalizeLimit(limit)),
	}).Result()
	if err != nil {
		slog.Error("RedisSessionStore.ListIdleSessions failed", "error", err)
		return nil, fmt.Errorf("redis list idle sessions: %w", err)
	}

	var idle []models.ConversationState
	for _, id := range ids {
		state, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if state == nil {
			if err := s.rdb.ZRem(ctx, redisActivityKey, id).Err(); err != nil {
				slog.Warn("RedisSessionStore.ListIdleSessions: failed to drop expired entry", "error", err, "sessionID", id)
			}
			continue
		}
		if state.Status == models.StatusInProgress {
			idle = append(idle, *state)
		}
	}
	slog.Debug("RedisSessionStore.ListIdleSessions succeeded", "before", before, "count", len(idle))
	return idle, nil
}
