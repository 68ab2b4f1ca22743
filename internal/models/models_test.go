package models

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseQuestionSpec_DefaultsKindToSlot(t *testing.T) {
	data := []byte(`
questions:
  - slot: name
    prompt: "  What should we call you?  "
  - slot: years
    prompt: How long have you worked?
    kind: experience
`)
	spec, err := ParseQuestionSpec(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(spec))
	}
	if spec[0].Kind != SlotKindName {
		t.Errorf("expected kind %q, got %q", SlotKindName, spec[0].Kind)
	}
	if spec[0].Prompt != "What should we call you?" {
		t.Errorf("expected trimmed prompt, got %q", spec[0].Prompt)
	}
	if spec[1].Kind != SlotKindExperience {
		t.Errorf("expected explicit kind to be kept, got %q", spec[1].Kind)
	}
}

func TestParseQuestionSpec_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "questions: []", ErrEmptyQuestionSpec},
		{"missing slot", "questions:\n  - prompt: hi\n", ErrEmptySlot},
		{"missing prompt", "questions:\n  - slot: name\n", ErrEmptyQuestionText},
		{"duplicate", "questions:\n  - {slot: name, prompt: a}\n  - {slot: name, prompt: b}\n", ErrDuplicateSlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuestionSpec([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseQuestionSpec_BadYAML(t *testing.T) {
	if _, err := ParseQuestionSpec([]byte("questions: [")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestDefaultQuestionSpecIsValid(t *testing.T) {
	spec := DefaultQuestionSpec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("default spec invalid: %v", err)
	}
	want := []string{"name", "age", "job_title", "experience"}
	for i, q := range spec {
		if q.Slot != want[i] {
			t.Errorf("question %d: expected slot %q, got %q", i, want[i], q.Slot)
		}
	}
}

func TestMissingSlots(t *testing.T) {
	spec := DefaultQuestionSpec()
	fields := map[string]SlotValue{
		"name": StringValue("Alice"),
		"age":  IntValue(30),
	}
	got := spec.MissingSlots(fields)
	want := []string{"job_title", "experience"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestConversationStateClone(t *testing.T) {
	s := NewConversationState("s1")
	s.CollectedData["name"] = StringValue("Alice")

	c := s.Clone()
	c.CollectedData["age"] = IntValue(30)
	c.QuestionIndex = 2

	if len(s.CollectedData) != 1 {
		t.Errorf("clone mutation leaked into original: %v", s.CollectedData)
	}
	if s.QuestionIndex != 0 {
		t.Errorf("expected original index 0, got %d", s.QuestionIndex)
	}
}

func TestConversationStateJSONKeepsIntegers(t *testing.T) {
	s := NewConversationState("s1")
	s.CollectedData["age"] = IntValue(42)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back ConversationState
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got := back.CollectedData["age"]
	if got.Type != ValueTypeInteger || got.Int != 42 {
		t.Errorf("expected integer 42, got %+v", got)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusInProgress.IsTerminal() {
		t.Error("in_progress should not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusAbandoned.IsTerminal() {
		t.Error("completed and abandoned should be terminal")
	}
}

func TestProfileValidate(t *testing.T) {
	p := Profile{SessionID: "s1", Fields: map[string]SlotValue{"experience": IntValue(-1)}}
	if err := p.Validate(); !errors.Is(err, ErrNegativeExperience) {
		t.Errorf("expected ErrNegativeExperience, got %v", err)
	}
	p.Fields["experience"] = IntValue(0)
	if err := p.Validate(); err != nil {
		t.Errorf("expected zero experience to be valid, got %v", err)
	}
	if err := (Profile{}).Validate(); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
}
