package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/genai"
)

func TestResponseGenerator_Success(t *testing.T) {
	gen := &mockGenerator{reply: "  How old are you?\n"}
	reporter := &recordingReporter{}
	g := NewResponseGenerator(gen, WithSystemPrompt("persona"), WithGenerationReporter(reporter))

	if got := g.Generate(context.Background(), "s1", "prompt"); got != "How old are you?" {
		t.Errorf("expected trimmed reply, got %q", got)
	}
	if gen.systemPs[0] != "persona" || gen.prompts[0] != "prompt" {
		t.Errorf("generator received %q / %q", gen.systemPs[0], gen.prompts[0])
	}
	if len(reporter.kinds()) != 0 {
		t.Errorf("unexpected failure reports: %v", reporter.kinds())
	}
}

func TestResponseGenerator_Fallbacks(t *testing.T) {
	tests := []struct {
		name       string
		gen        *mockGenerator
		want       string
		wantReport bool
	}{
		{"service error", &mockGenerator{err: errors.New("503")}, GenerationErrorReply, true},
		{"no choices", &mockGenerator{err: fmt.Errorf("wrapped: %w", genai.ErrNoChoicesReturned)}, EmptyGenerationReply, false},
		{"blank content", &mockGenerator{reply: " \n\t "}, EmptyGenerationReply, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &recordingReporter{}
			g := NewResponseGenerator(tt.gen, WithGenerationReporter(reporter))
			if got := g.Generate(context.Background(), "s1", "p"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if got := len(reporter.kinds()) > 0; got != tt.wantReport {
				t.Errorf("reported = %v, want %v", got, tt.wantReport)
			}
		})
	}
}

func TestResponseGenerator_Timeout(t *testing.T) {
	reporter := &recordingReporter{}
	g := NewResponseGenerator(&mockGenerator{block: true}, WithGenerationTimeout(20*time.Millisecond), WithGenerationReporter(reporter))

	start := time.Now()
	got := g.Generate(context.Background(), "s1", "p")
	if got != GenerationErrorReply {
		t.Errorf("expected error fallback, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("generation was not bounded: %v", elapsed)
	}
	kinds := reporter.kinds()
	if len(kinds) != 1 || kinds[0] != FailureGeneration {
		t.Errorf("expected one generation failure, got %v", kinds)
	}
}

func TestResponseGenerator_NilGenerator(t *testing.T) {
	reporter := &recordingReporter{}
	g := NewResponseGenerator(nil, WithGenerationReporter(reporter))
	if got := g.Generate(context.Background(), "s1", "p"); got != GenerationErrorReply {
		t.Errorf("got %q", got)
	}
	if len(reporter.kinds()) != 1 {
		t.Errorf("expected a failure report")
	}
}

func TestResponseGenerator_DefaultTimeout(t *testing.T) {
	g := NewResponseGenerator(&mockGenerator{}, WithGenerationTimeout(-1))
	if g.timeout != DefaultGenerationTimeout {
		t.Errorf("timeout = %v, want %v", g.timeout, DefaultGenerationTimeout)
	}
}
