package flow

import (
	"strings"
	"testing"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

func TestPromptBuilder_QuestionPrompt(t *testing.T) {
	b := NewPromptBuilder(models.DefaultQuestionSpec(), nil)
	state := stateAt("s1", 1, map[string]models.SlotValue{"name": models.StringValue("Alice")})

	got := b.Build(state)
	for _, want := range []string{"question 2 of 4", "Question: How old are you?", "- name: Alice"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "not provided") {
		t.Errorf("question prompt should not list unanswered slots:\n%s", got)
	}
}

func TestPromptBuilder_FirstQuestionHasNoAnswers(t *testing.T) {
	b := NewPromptBuilder(models.DefaultQuestionSpec(), nil)
	got := b.Build(models.NewConversationState("s1"))
	if !strings.Contains(got, "question 1 of 4") || !strings.Contains(got, "What is your name?") {
		t.Errorf("unexpected prompt:\n%s", got)
	}
	if strings.Contains(got, "Answers collected so far") {
		t.Errorf("first prompt should not list answers:\n%s", got)
	}
}

func TestPromptBuilder_SummaryPrompt(t *testing.T) {
	b := NewPromptBuilder(models.DefaultQuestionSpec(), nil)
	state := stateAt("s1", 4, map[string]models.SlotValue{
		"name":       models.StringValue("Alice"),
		"age":        models.IntValue(30),
		"experience": models.IntValue(0),
	})

	got := b.Build(state)
	wantOrder := []string{"- name: Alice", "- age: 30", "- job_title: not provided", "- experience: 0"}
	last := -1
	for _, want := range wantOrder {
		i := strings.Index(got, want)
		if i < 0 {
			t.Fatalf("summary missing %q:\n%s", want, got)
		}
		if i < last {
			t.Errorf("summary lines out of spec order:\n%s", got)
		}
		last = i
	}
	if !strings.Contains(got, "Summarize") {
		t.Errorf("expected a summary instruction:\n%s", got)
	}
}

func TestPromptBuilder_SystemPromptCarriesTone(t *testing.T) {
	b := NewPromptBuilder(models.DefaultQuestionSpec(), []string{"formal", "casual", "bogus"})
	sp := b.SystemPrompt()
	if !strings.Contains(sp, "interviewer") {
		t.Errorf("system prompt missing persona:\n%s", sp)
	}
	if !strings.Contains(sp, "formal diction") || strings.Contains(sp, "casual") {
		t.Errorf("system prompt tone not validated:\n%s", sp)
	}

	plain := NewPromptBuilder(models.DefaultQuestionSpec(), nil).SystemPrompt()
	if strings.Contains(plain, "<TONE POLICY>") {
		t.Errorf("no tone tags should produce no tone policy:\n%s", plain)
	}
}

func TestPromptBuilder_IsPure(t *testing.T) {
	b := NewPromptBuilder(models.DefaultQuestionSpec(), nil)
	state := stateAt("s1", 2, map[string]models.SlotValue{"name": models.StringValue("Bo"), "age": models.IntValue(5)})
	before := state.Clone()
	if b.Build(state) != b.Build(state) {
		t.Error("Build is not deterministic")
	}
	if state.QuestionIndex != before.QuestionIndex || len(state.CollectedData) != len(before.CollectedData) {
		t.Error("Build mutated its input")
	}
}
