package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/genai"
)

const (
	// DefaultGenerationTimeout bounds one call to the text generator.
	DefaultGenerationTimeout = 30 * time.Second

	// GenerationErrorReply is sent when the generator fails or times out.
	GenerationErrorReply = "I'm experiencing some issues. Please try again later."
	// EmptyGenerationReply is sent when the generator returns no usable text.
	EmptyGenerationReply = "I'm sorry, could you please repeat that?"
)

// TextGenerator is the external text-generation capability.
type TextGenerator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var _ TextGenerator = (*genai.Client)(nil)

// ResponseGenerator turns a prompt into a reply that is never empty. Every
// generator failure is translated into a fixed fallback reply.
type ResponseGenerator struct {
	gen          TextGenerator
	systemPrompt string
	timeout      time.Duration
	reporter     FailureReporter
}

// ResponseGeneratorOption configures a ResponseGenerator.
type ResponseGeneratorOption func(*ResponseGenerator)

// WithSystemPrompt sets the system prompt sent with every generation.
func WithSystemPrompt(p string) ResponseGeneratorOption {
	return func(g *ResponseGenerator) { g.systemPrompt = p }
}

// WithGenerationTimeout bounds each generator call. Non-positive values keep the default.
func WithGenerationTimeout(d time.Duration) ResponseGeneratorOption {
	return func(g *ResponseGenerator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGenerationReporter sets where generation failures are reported.
func WithGenerationReporter(r FailureReporter) ResponseGeneratorOption {
	return func(g *ResponseGenerator) {
		if r != nil {
			g.reporter = r
		}
	}
}

// NewResponseGenerator wraps gen with timeout and fallback handling.
func NewResponseGenerator(gen TextGenerator, opts ...ResponseGeneratorOption) *ResponseGenerator {
	g := &ResponseGenerator{
		gen:      gen,
		timeout:  DefaultGenerationTimeout,
		reporter: LogReporter{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the generator to respond to prompt and returns the trimmed
// first choice, or a fallback reply.
func (g *ResponseGenerator) Generate(ctx context.Context, sessionID, prompt string) string {
	if g.gen == nil {
		g.reporter.ReportFailure(ctx, Failure{Kind: FailureGeneration, SessionID: sessionID, Err: fmt.Errorf("text generator not configured")})
		return GenerationErrorReply
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := g.gen.GeneratePromptWithContext(ctx, g.systemPrompt, prompt)
	if errors.Is(err, genai.ErrNoChoicesReturned) {
		slog.Warn("ResponseGenerator.Generate: no choices returned", "sessionID", sessionID)
		return EmptyGenerationReply
	}
	if err != nil {
		slog.Error("ResponseGenerator.Generate: generation failed", "error", err, "sessionID", sessionID, "elapsed", time.Since(start))
		g.reporter.ReportFailure(ctx, Failure{Kind: FailureGeneration, SessionID: sessionID, Err: err})
		return GenerationErrorReply
	}

	reply := strings.TrimSpace(out)
	if reply == "" {
		slog.Warn("ResponseGenerator.Generate: empty reply", "sessionID", sessionID)
		return EmptyGenerationReply
	}
	slog.Debug("ResponseGenerator.Generate: reply generated", "sessionID", sessionID, "length", len(reply), "elapsed", time.Since(start))
	return reply
}
