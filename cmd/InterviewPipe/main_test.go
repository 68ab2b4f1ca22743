package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/api"
	"github.com/BTreeMap/InterviewPipe/internal/flow"
	"github.com/BTreeMap/InterviewPipe/internal/lockfile"
	"github.com/BTreeMap/InterviewPipe/internal/store"
	"github.com/BTreeMap/InterviewPipe/internal/tone"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"INTERVIEWPIPE_STATE_DIR", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"SESSION_TTL", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "OPENAI_TEMPERATURE",
	"OPENAI_MAX_TOKENS", "GENAI_TIMEOUT", "PROFILE_SAVE_TIMEOUT", "API_ADDR", "QUESTIONS_FILE",
	"TONE_TAGS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_JSON", "SESSION_SWEEP_SCHEDULE",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadEnvironmentConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	config := loadEnvironmentConfig()

	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, api.DefaultAddr, config.APIAddr)
	assert.Equal(t, store.DefaultSessionTTL, config.SessionTTL)
	assert.Equal(t, flow.DefaultGenerationTimeout, config.GenAITimeout)
	assert.Equal(t, flow.DefaultProfileSaveTimeout, config.ProfileSaveTimeout)
	assert.Equal(t, tone.DefaultTags, config.ToneTags)
	assert.Equal(t, api.DefaultRateLimitRPS, config.RateLimitRPS)
	assert.Equal(t, api.DefaultRateLimitBurst, config.RateLimitBurst)
	assert.False(t, config.LogJSON)
	assert.Equal(t, DefaultSweepSchedule, config.SweepSchedule)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultDBFileName), config.databaseDSN())
}

func TestLoadEnvironmentConfig_FromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("INTERVIEWPIPE_STATE_DIR", "/tmp/iv")
	t.Setenv("DATABASE_URL", "postgres://user@localhost/iv")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("GENAI_TIMEOUT", "5")
	t.Setenv("TONE_TAGS", "formal, casual, bogus")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("LOG_JSON", "yes")

	config := loadEnvironmentConfig()

	assert.Equal(t, "/tmp/iv", config.StateDir)
	assert.Equal(t, "postgres://user@localhost/iv", config.databaseDSN())
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, 3, config.RedisDB)
	assert.Equal(t, 2*time.Hour, config.SessionTTL)
	assert.Equal(t, 5*time.Second, config.GenAITimeout)
	assert.Equal(t, []string{"formal"}, config.ToneTags)
	assert.Equal(t, 0.5, config.RateLimitRPS)
	assert.True(t, config.LogJSON)
}

func TestParseCommandLineFlags_OverridesEnv(t *testing.T) {
	base := Config{StateDir: "/env/dir", APIAddr: ":8080", ToneTags: tone.DefaultTags}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	config, err := parseCommandLineFlags(fs, []string{
		"-state-dir", "/flag/dir",
		"-api-addr", ":9090",
		"-tone", "detailed,encouraging",
		"-log-level", "debug",
		"-sweep-schedule", "",
	}, base)
	require.NoError(t, err)
	assert.Empty(t, config.SweepSchedule)

	assert.Equal(t, "/flag/dir", config.StateDir)
	assert.Equal(t, ":9090", config.APIAddr)
	assert.Equal(t, []string{"detailed", "encouraging"}, config.ToneTags)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestParseCommandLineFlags_KeepsEnvWhenUnset(t *testing.T) {
	base := Config{StateDir: "/env/dir", APIAddr: ":7070", ToneTags: tone.DefaultTags}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	config, err := parseCommandLineFlags(fs, nil, base)
	require.NoError(t, err)
	assert.Equal(t, base.StateDir, config.StateDir)
	assert.Equal(t, base.APIAddr, config.APIAddr)
	assert.Equal(t, tone.DefaultTags, config.ToneTags)
}

func TestParseCommandLineFlags_RejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(discard))
	_, err := parseCommandLineFlags(fs, []string{"-no-such-flag"}, Config{})
	assert.Error(t, err)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, parseLogLevel(input), "input %q", input)
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	return Config{
		StateDir:           t.TempDir(),
		SessionTTL:         time.Hour,
		GenAITimeout:       time.Second,
		ProfileSaveTimeout: time.Second,
		APIAddr:            "127.0.0.1:0",
		ToneTags:           tone.DefaultTags,
	}
}

func TestBuildApp_SQLiteWithRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	config := testConfig(t)
	config.RedisAddr = mr.Addr()

	a, err := buildApp(context.Background(), config)
	require.NoError(t, err)
	defer a.close()

	assert.FileExists(t, filepath.Join(config.StateDir, DefaultDBFileName))
	assert.FileExists(t, filepath.Join(config.StateDir, lockfile.LockFileName))

	ts := httptest.NewServer(a.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/interviews", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Result struct {
			SessionID string `json:"session_id"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Result.SessionID)

	sessionKey := "interview:session:" + body.Result.SessionID
	require.True(t, mr.Exists(sessionKey))
	assert.Equal(t, 2*config.SessionTTL, mr.TTL(sessionKey), "keys outlive the idle cutoff")
	require.NotNil(t, a.idle, "redis sessions are swept too")

	n, err := a.runner.ExpireIdle(context.Background(), a.idle, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(sessionKey))
}

func TestRedisKeyTTL(t *testing.T) {
	assert.Equal(t, 2*time.Hour, redisKeyTTL(time.Hour))
	assert.Equal(t, 2*store.DefaultSessionTTL, redisKeyTTL(0))
}

func TestBuildApp_SQLiteSessionsAreSwept(t *testing.T) {
	config := testConfig(t)

	a, err := buildApp(context.Background(), config)
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.idle)

	_, err = a.runner.StartSession(context.Background())
	require.NoError(t, err)
	n, err := a.runner.ExpireIdle(context.Background(), a.idle, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_InvalidSweepSchedule(t *testing.T) {
	config := testConfig(t)
	config.SweepSchedule = "whenever"
	assert.Error(t, run(context.Background(), config))
}

func TestBuildApp_StateDirLocked(t *testing.T) {
	config := testConfig(t)

	first, err := buildApp(context.Background(), config)
	require.NoError(t, err)
	defer first.close()

	_, err = buildApp(context.Background(), config)
	assert.ErrorIs(t, err, lockfile.ErrLocked)
}

func TestBuildApp_ReleasesLockOnFailure(t *testing.T) {
	config := testConfig(t)
	config.RedisAddr = "127.0.0.1:1"

	_, err := buildApp(context.Background(), config)
	require.Error(t, err)

	lock, err := lockfile.AcquireLock(config.StateDir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestBuildApp_BadQuestionsFile(t *testing.T) {
	config := testConfig(t)
	config.QuestionsFile = filepath.Join(config.StateDir, "missing.yaml")

	_, err := buildApp(context.Background(), config)
	assert.Error(t, err)
}

func TestBuildApp_UnsupportedSlot(t *testing.T) {
	config := testConfig(t)
	path := filepath.Join(config.StateDir, "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("questions:\n  - slot: favourite_colour\n    prompt: What is your favourite colour?\n"), 0o644))
	config.QuestionsFile = path

	_, err := buildApp(context.Background(), config)
	assert.ErrorIs(t, err, flow.ErrUnknownSlot)
}

func TestRun_StopsOnCancel(t *testing.T) {
	config := testConfig(t)
	config.SweepSchedule = DefaultSweepSchedule
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, config) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_ServerFailureStopsScheduler(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	config := testConfig(t)
	config.APIAddr = busy.Addr().String()
	config.SweepSchedule = DefaultSweepSchedule

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), config) }()
	select {
	case err := <-done:
		assert.Error(t, err, "a listener failure must end the whole group")
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going after the server failed")
	}

	lock, err := lockfile.AcquireLock(config.StateDir)
	require.NoError(t, err, "run must release the state directory on exit")
	require.NoError(t, lock.Release())
}
