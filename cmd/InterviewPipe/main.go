package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/api"
	"github.com/BTreeMap/InterviewPipe/internal/flow"
	"github.com/BTreeMap/InterviewPipe/internal/genai"
	"github.com/BTreeMap/InterviewPipe/internal/lockfile"
	"github.com/BTreeMap/InterviewPipe/internal/metrics"
	"github.com/BTreeMap/InterviewPipe/internal/models"
	"github.com/BTreeMap/InterviewPipe/internal/scheduler"
	"github.com/BTreeMap/InterviewPipe/internal/store"
	"github.com/BTreeMap/InterviewPipe/internal/tone"
	"github.com/BTreeMap/InterviewPipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for InterviewPipe state data
	DefaultStateDir = "/var/lib/interviewpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "interviewpipe.db"
	// DefaultSweepSchedule is how often idle sessions are expired
	DefaultSweepSchedule = "*/5 * * * *"
)

func main() {
	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	initializeLogger(config.LogLevel, config.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		slog.Error("InterviewPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("InterviewPipe exited successfully")
}

// Config holds the service configuration read from the environment and flags.
type Config struct {
	StateDir           string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	SessionTTL         time.Duration
	SweepSchedule      string
	OpenAIKey          string
	OpenAIModel        string
	OpenAIBaseURL      string
	OpenAITemperature  float64
	OpenAIMaxTokens    int
	GenAITimeout       time.Duration
	ProfileSaveTimeout time.Duration
	APIAddr            string
	QuestionsFile      string
	ToneTags           []string
	RateLimitRPS       float64
	RateLimitBurst     int
	LogLevel           string
	LogJSON            bool
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(level string, asJSON bool) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if asJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:           os.Getenv("INTERVIEWPIPE_STATE_DIR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            util.ParseIntEnv("REDIS_DB", 0),
		SessionTTL:         util.ParseDurationEnv("SESSION_TTL", store.DefaultSessionTTL),
		SweepSchedule:      os.Getenv("SESSION_SWEEP_SCHEDULE"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAITemperature:  util.ParseFloatEnv("OPENAI_TEMPERATURE", genai.DefaultTemperature),
		OpenAIMaxTokens:    util.ParseIntEnv("OPENAI_MAX_TOKENS", genai.DefaultMaxCompletionTokens),
		GenAITimeout:       util.ParseDurationEnv("GENAI_TIMEOUT", flow.DefaultGenerationTimeout),
		ProfileSaveTimeout: util.ParseDurationEnv("PROFILE_SAVE_TIMEOUT", flow.DefaultProfileSaveTimeout),
		APIAddr:            os.Getenv("API_ADDR"),
		QuestionsFile:      os.Getenv("QUESTIONS_FILE"),
		RateLimitRPS:       util.ParseFloatEnv("RATE_LIMIT_RPS", api.DefaultRateLimitRPS),
		RateLimitBurst:     util.ParseIntEnv("RATE_LIMIT_BURST", api.DefaultRateLimitBurst),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LogJSON:            util.ParseBoolEnv("LOG_JSON", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTERVIEWPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = DefaultSweepSchedule
	}
	if tags := util.ParseListEnv("TONE_TAGS"); len(tags) > 0 {
		config.ToneTags = tone.ValidateTags(tags)
	} else {
		config.ToneTags = tone.DefaultTags
	}

	slog.Debug("environment variables loaded",
		"INTERVIEWPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_ADDR", config.RedisAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"QUESTIONS_FILE", config.QuestionsFile,
		"TONE_TAGS", config.ToneTags)

	return config
}

// parseCommandLineFlags applies command line overrides on top of config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	stateDir := fs.String("state-dir", config.StateDir, "state directory for InterviewPipe data (overrides $INTERVIEWPIPE_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseURL, "PostgreSQL DSN or SQLite path (overrides $DATABASE_URL)")
	redisAddr := fs.String("redis-addr", config.RedisAddr, "Redis address for session state (overrides $REDIS_ADDR)")
	openaiKey := fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	openaiModel := fs.String("openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	questions := fs.String("questions", config.QuestionsFile, "YAML question file (overrides $QUESTIONS_FILE)")
	toneTags := fs.String("tone", strings.Join(config.ToneTags, ","), "comma-separated interviewer tone tags (overrides $TONE_TAGS)")
	sweep := fs.String("sweep-schedule", config.SweepSchedule, "cron schedule for expiring idle sessions, empty to disable (overrides $SESSION_SWEEP_SCHEDULE)")
	logLevel := fs.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	config.StateDir = *stateDir
	config.DatabaseURL = *dbDSN
	config.RedisAddr = *redisAddr
	config.OpenAIKey = *openaiKey
	config.OpenAIModel = *openaiModel
	config.APIAddr = *apiAddr
	config.QuestionsFile = *questions
	config.ToneTags = tone.ParseTags(*toneTags)
	config.SweepSchedule = *sweep
	config.LogLevel = *logLevel
	return config, nil
}

// databaseDSN returns the configured DSN, defaulting to SQLite in the state directory.
func (c Config) databaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// app holds the wired service and everything that must be closed on exit.
type app struct {
	server  *api.Server
	runner  *flow.SessionRunner
	idle    store.IdleSessionLister
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}
}

// buildApp wires stores, generator, interview engine and HTTP server from config.
func buildApp(ctx context.Context, config Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	spec := models.DefaultQuestionSpec()
	if config.QuestionsFile != "" {
		loaded, err := models.LoadQuestionSpec(config.QuestionsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load questions: %w", err)
		}
		spec = loaded
	}
	if err := flow.SupportsSpec(spec); err != nil {
		return nil, fmt.Errorf("unsupported question spec: %w", err)
	}

	dsn := config.databaseDSN()
	if store.DetectDSNType(dsn) == "sqlite3" {
		lock, err := lockfile.AcquireLock(config.StateDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, lock.Release)
	}
	records, err := store.NewStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, records.Close)

	var sessions store.SessionStore = records
	if config.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: config.RedisAddr, Password: config.RedisPassword, DB: config.RedisDB})
		a.closers = append(a.closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", config.RedisAddr, err)
		}
		// Keys outlive the idle cutoff so the sweep abandons a session, saving
		// its partial profile, before Redis drops it.
		keyTTL := redisKeyTTL(config.SessionTTL)
		sessions = store.NewRedisSessionStore(rdb, keyTTL)
		slog.Info("Using Redis for session state", "addr", config.RedisAddr, "idle_after", config.SessionTTL, "key_ttl", keyTTL)
	}

	var generator flow.TextGenerator
	client, err := genai.NewClient(buildGenAIOptions(config)...)
	switch {
	case errors.Is(err, genai.ErrNoAPIKey):
		slog.Warn("OpenAI API key not configured; replies will use fallback text")
	case err != nil:
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	default:
		generator = client
	}

	recorder := metrics.NewRecorder()
	prompts := flow.NewPromptBuilder(spec, config.ToneTags)
	responder := flow.NewResponseGenerator(generator,
		flow.WithSystemPrompt(prompts.SystemPrompt()),
		flow.WithGenerationTimeout(config.GenAITimeout),
		flow.WithGenerationReporter(recorder))
	interview, err := flow.NewInterview(spec, prompts, responder,
		flow.NewProfileRecorder(records, spec, config.ProfileSaveTimeout),
		flow.WithFailureReporter(recorder))
	if err != nil {
		return nil, err
	}
	runner := flow.NewSessionRunner(interview, sessions, records, flow.WithTurnObserver(recorder))

	a.runner = runner
	if lister, ok := sessions.(store.IdleSessionLister); ok {
		a.idle = lister
	}
	a.server = api.NewServer(runner, sessions, records, recorder,
		api.WithAddr(config.APIAddr),
		api.WithRateLimit(config.RateLimitRPS, config.RateLimitBurst))
	slog.Info("InterviewPipe configured", "questions", len(spec), "store", store.DetectDSNType(dsn), "redis", config.RedisAddr != "", "genai", generator != nil)
	ok = true
	return a, nil
}

// redisKeyTTL is the Redis key lifetime for sessions that go idle after idle.
func redisKeyTTL(idle time.Duration) time.Duration {
	if idle <= 0 {
		idle = store.DefaultSessionTTL
	}
	return 2 * idle
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var opts []genai.Option
	if config.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	opts = append(opts, genai.WithTemperature(config.OpenAITemperature))
	if config.OpenAIMaxTokens > 0 {
		opts = append(opts, genai.WithMaxCompletionTokens(int64(config.OpenAIMaxTokens)))
	}
	return opts
}

// run serves until ctx is cancelled. The API server, the rate-limit sweep and
// the idle-session scheduler run as one group: the first to fail stops the rest.
func run(ctx context.Context, config Config) error {
	a, err := buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.close()

	var sched *scheduler.Scheduler
	if a.idle != nil && config.SweepSchedule != "" {
		sched = scheduler.NewScheduler()
		err := sched.AddJob("expire-idle-sessions", config.SweepSchedule, func(jobCtx context.Context) {
			if _, err := a.runner.ExpireIdle(jobCtx, a.idle, config.SessionTTL); err != nil {
				slog.Error("idle session sweep failed", "error", err)
			}
		})
		if err != nil {
			sched.Stop(context.Background())
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error { return a.server.SweepRateLimits(gctx) })
	if sched != nil {
		// Jobs must finish before the stores close.
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		})
	}
	return g.Wait()
}
