// Package models defines the interview question spec shared by the flow and store packages.
package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SlotKind names the validator family that applies to a slot.
type SlotKind string

// Slot kinds understood by the slot validator.
const (
	SlotKindName       SlotKind = "name"
	SlotKindAge        SlotKind = "age"
	SlotKindJobTitle   SlotKind = "job_title"
	SlotKindExperience SlotKind = "experience"
)

// Question is one entry of the interview script.
type Question struct {
	Slot   string   `yaml:"slot" json:"slot"`
	Prompt string   `yaml:"prompt" json:"prompt"`
	Kind   SlotKind `yaml:"kind,omitempty" json:"kind"`
}

// QuestionSpec is the ordered interview script. It is built once at startup
// and shared read-only by every session.
type QuestionSpec []Question

// DefaultQuestionSpec returns the canonical four-question interview.
func DefaultQuestionSpec() QuestionSpec {
	return QuestionSpec{
		{Slot: "name", Prompt: "What is your name?", Kind: SlotKindName},
		{Slot: "age", Prompt: "How old are you?", Kind: SlotKindAge},
		{Slot: "job_title", Prompt: "What is your current job title?", Kind: SlotKindJobTitle},
		{Slot: "experience", Prompt: "How many years of professional experience do you have?", Kind: SlotKindExperience},
	}
}

type questionFile struct {
	Questions []Question `yaml:"questions"`
}

// ParseQuestionSpec decodes a YAML question file. A question without an
// explicit kind uses its slot name as the kind.
func ParseQuestionSpec(data []byte) (QuestionSpec, error) {
	var f questionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse question spec: %w", err)
	}
	spec := make(QuestionSpec, 0, len(f.Questions))
	for _, q := range f.Questions {
		q.Slot = strings.TrimSpace(q.Slot)
		q.Prompt = strings.TrimSpace(q.Prompt)
		if q.Kind == "" {
			q.Kind = SlotKind(q.Slot)
		}
		spec = append(spec, q)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// LoadQuestionSpec reads and parses a YAML question file from disk.
func LoadQuestionSpec(path string) (QuestionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question spec %s: %w", path, err)
	}
	return ParseQuestionSpec(data)
}

// Validate checks the structural rules of a question spec.
func (qs QuestionSpec) Validate() error {
	if len(qs) == 0 {
		return ErrEmptyQuestionSpec
	}
	seen := make(map[string]bool, len(qs))
	for i, q := range qs {
		if q.Slot == "" {
			return fmt.Errorf("question %d: %w", i, ErrEmptySlot)
		}
		if q.Prompt == "" {
			return fmt.Errorf("question %d (%s): %w", i, q.Slot, ErrEmptyQuestionText)
		}
		if seen[q.Slot] {
			return fmt.Errorf("question %d: %w: %s", i, ErrDuplicateSlot, q.Slot)
		}
		seen[q.Slot] = true
	}
	return nil
}

// Lookup returns the question that collects slot.
func (qs QuestionSpec) Lookup(slot string) (Question, bool) {
	for _, q := range qs {
		if q.Slot == slot {
			return q, true
		}
	}
	return Question{}, false
}

// MissingSlots lists, in script order, the slots that fields does not cover.
func (qs QuestionSpec) MissingSlots(fields map[string]SlotValue) []string {
	var missing []string
	for _, q := range qs {
		if _, ok := fields[q.Slot]; !ok {
			missing = append(missing, q.Slot)
		}
	}
	return missing
}
