package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// slotRule validates and normalizes one raw answer.
type slotRule func(raw string) models.ValidationOutcome

var slotRules = map[models.SlotKind]slotRule{
	models.SlotKindName:       requiredText("Name cannot be empty."),
	models.SlotKindJobTitle:   requiredText("Job title cannot be empty."),
	models.SlotKindAge:        boundedInt(1, "Please enter your age as a whole number.", "Age must be a positive number."),
	models.SlotKindExperience: boundedInt(0, "Please enter your years of experience as a whole number.", "Experience cannot be negative."),
}

func requiredText(emptyMsg string) slotRule {
	return func(raw string) models.ValidationOutcome {
		v := strings.TrimSpace(raw)
		if v == "" {
			return models.Invalid(emptyMsg)
		}
		return models.Valid(models.StringValue(v))
	}
}

func boundedInt(lowest int, parseMsg, rangeMsg string) slotRule {
	return func(raw string) models.ValidationOutcome {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return models.Invalid(parseMsg)
		}
		if n < lowest {
			return models.Invalid(rangeMsg)
		}
		return models.Valid(models.IntValue(int64(n)))
	}
}

// SlotValidator resolves a slot to its kind through the question spec and
// applies the rule registered for that kind.
type SlotValidator struct {
	spec models.QuestionSpec
}

// NewSlotValidator builds a validator for the slots of spec.
func NewSlotValidator(spec models.QuestionSpec) *SlotValidator {
	return &SlotValidator{spec: spec}
}

// Validate checks raw against the rule of slot. A user mistake comes back as
// an invalid outcome; a slot without a rule is a configuration error.
func (v *SlotValidator) Validate(slot, raw string) (models.ValidationOutcome, error) {
	q, ok := v.spec.Lookup(slot)
	if !ok {
		return models.ValidationOutcome{}, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	rule, ok := slotRules[q.Kind]
	if !ok {
		return models.ValidationOutcome{}, fmt.Errorf("%w: %q (kind %q)", ErrUnknownSlot, slot, q.Kind)
	}
	return rule(raw), nil
}

// SupportsSpec reports the first slot of spec whose kind has no rule.
func SupportsSpec(spec models.QuestionSpec) error {
	for _, q := range spec {
		if _, ok := slotRules[q.Kind]; !ok {
			return fmt.Errorf("%w: %q (kind %q)", ErrUnknownSlot, q.Slot, q.Kind)
		}
	}
	return nil
}
