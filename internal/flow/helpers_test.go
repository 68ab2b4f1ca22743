package flow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// mockGenerator is a TextGenerator that echoes the prompt unless configured otherwise.
type mockGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	block    bool
	calls    int
	prompts  []string
	systemPs []string
}

func (m *mockGenerator) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, userPrompt)
	m.systemPs = append(m.systemPs, systemPrompt)
	reply, err, block := m.reply, m.err, m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "generated: " + userPrompt, nil
	}
	return reply, nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingReporter collects failure reports.
type recordingReporter struct {
	mu       sync.Mutex
	failures []Failure
}

func (r *recordingReporter) ReportFailure(ctx context.Context, f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recordingReporter) kinds() []FailureKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FailureKind, len(r.failures))
	for i, f := range r.failures {
		out[i] = f.Kind
	}
	return out
}

// mockProfileSaver records saved profiles and can be told to fail.
type mockProfileSaver struct {
	mu    sync.Mutex
	err   error
	saved []models.Profile
}

func (m *mockProfileSaver) SaveProfile(ctx context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, p)
	return nil
}

func (m *mockProfileSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

var errSaveFailed = errors.New("disk full")

type testInterview struct {
	iv       *Interview
	gen      *mockGenerator
	saver    *mockProfileSaver
	reporter *recordingReporter
}

func newTestInterview(t testing.TB, spec models.QuestionSpec) *testInterview {
	t.Helper()
	gen := &mockGenerator{}
	saver := &mockProfileSaver{}
	reporter := &recordingReporter{}
	prompts := NewPromptBuilder(spec, nil)
	responder := NewResponseGenerator(gen, WithSystemPrompt(prompts.SystemPrompt()), WithGenerationReporter(reporter))
	iv, err := NewInterview(spec, prompts, responder, NewProfileRecorder(saver, spec, 0), WithFailureReporter(reporter))
	if err != nil {
		t.Fatalf("NewInterview: %v", err)
	}
	return &testInterview{iv: iv, gen: gen, saver: saver, reporter: reporter}
}

func nameOnlySpec() models.QuestionSpec {
	return models.QuestionSpec{{Slot: "name", Prompt: "What is your name?", Kind: models.SlotKindName}}
}

func stateAt(id string, index int, data map[string]models.SlotValue) models.ConversationState {
	s := models.NewConversationState(id)
	s.QuestionIndex = index
	for k, v := range data {
		s.CollectedData[k] = v
	}
	return s
}
