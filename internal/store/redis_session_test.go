package store

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisSessionStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisSessionStore(rdb, ttl), mr
}

func TestRedisSessionStore(t *testing.T) {
	s, _ := newTestRedisSessionStore(t, time.Hour)
	runSessionStoreTests(t, s, "redis-cas")
}

func TestRedisSessionStore_ConcurrentCreate(t *testing.T) {
	s, _ := newTestRedisSessionStore(t, time.Hour)
	runConcurrentCreateTest(t, s, "redis-race")
}

func TestRedisSessionStore_Expires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisSessionStore(t, time.Minute)

	_, err := s.SaveSession(ctx, models.NewConversationState("ttl"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(redisSessionPrefix+"ttl"))

	mr.FastForward(2 * time.Minute)
	got, err := s.GetSession(ctx, "ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewRedisSessionStore_DefaultTTL(t *testing.T) {
	s := NewRedisSessionStore(nil, 0)
	assert.Equal(t, DefaultSessionTTL, s.ttl)
}

func TestRedisSessionStore_IdleSessions(t *testing.T) {
	s, _ := newTestRedisSessionStore(t, time.Hour)
	runIdleSessionTests(t, s)
}

func TestRedisSessionStore_IdleIndexFollowsSessions(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisSessionStore(t, time.Minute)

	for _, id := range []string{"gone", "deleted"} {
		_, err := s.SaveSession(ctx, models.NewConversationState(id))
		require.NoError(t, err)
	}
	require.NoError(t, s.DeleteSession(ctx, "deleted"))
	members, err := mr.ZMembers(redisActivityKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, members, "delete drops the activity entry")

	mr.FastForward(2 * time.Minute)
	idle, err := s.ListIdleSessions(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, idle, "expired keys are not listed")
	assert.False(t, mr.Exists(redisActivityKey), "expired entries are pruned from the index")
}
