// Package tone provides a fixed whitelist of interviewer tone tags, validation,
// mutual-exclusion enforcement, and prompt-guide construction for the
// interviewer persona.
package tone

import (
	"log/slog"
	"strings"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe tone tags.
var AllTags = map[string]bool{
	// Style
	"concise":   true,
	"detailed":  true,
	"formal":    true,
	"casual":    true,
	"no_emojis": true,
	"emojis_ok": true,
	// Stance
	"warm_supportive":      true,
	"neutral_professional": true,
	"encouraging":          true,
	// Interaction
	"one_question_at_a_time": true,
	"acknowledge_answers":    true,
}

// DefaultTags is the tone used when none is configured.
var DefaultTags = []string{"concise", "warm_supportive", "no_emojis", "one_question_at_a_time"}

// mutuallyExclusivePairs defines tags where at most one may be active.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"no_emojis", "emojis_ok"},
	{"warm_supportive", "neutral_professional"},
}

// ---- Public API ----

// ValidateTags lower-cases and trims tags, drops unknown and duplicate tags,
// and keeps only the first of any mutually exclusive pair.
func ValidateTags(tags []string) []string {
	seen := map[string]bool{}
	var cleaned []string
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" || seen[t] {
			continue
		}
		if !AllTags[t] {
			slog.Warn("tone.ValidateTags: dropping unknown tag", "tag", t)
			continue
		}
		if conflict := exclusiveWith(t, seen); conflict != "" {
			slog.Warn("tone.ValidateTags: dropping conflicting tag", "tag", t, "conflicts_with", conflict)
			continue
		}
		seen[t] = true
		cleaned = append(cleaned, t)
	}
	return cleaned
}

// ParseTags splits a comma-separated tag list and validates it.
func ParseTags(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	return ValidateTags(strings.Split(csv, ","))
}

// BuildToneGuide produces a compact instruction snippet for injection into LLM system prompts.
// It returns an empty string when there are no active tags.
func BuildToneGuide(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\nAdapt your wording to this interviewer style:\n")

	// Style rules.
	if set["concise"] {
		b.WriteString("- Be concise: short sentences, minimal filler.\n")
	}
	if set["detailed"] {
		b.WriteString("- Be detailed: give a little context with each question, but avoid rambling.\n")
	}
	if set["formal"] {
		b.WriteString("- Use formal diction and professional register.\n")
	}
	if set["casual"] {
		b.WriteString("- Use casual, friendly language.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	}

	// Stance rules.
	switch {
	case set["warm_supportive"]:
		b.WriteString("- Adopt a warm, supportive stance.\n")
	case set["neutral_professional"]:
		b.WriteString("- Keep a neutral, professional stance.\n")
	default:
		b.WriteString("- Keep a neutral, professional stance.\n")
	}
	if set["encouraging"] {
		b.WriteString("- Encourage the user to keep going.\n")
	}

	// Interaction rules.
	if set["one_question_at_a_time"] {
		b.WriteString("- Ask exactly one question per message.\n")
	}
	if set["acknowledge_answers"] {
		b.WriteString("- Briefly acknowledge the previous answer before asking the next question.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}

// ---- helpers ----

func exclusiveWith(tag string, active map[string]bool) string {
	for _, pair := range mutuallyExclusivePairs {
		if pair[0] == tag && active[pair[1]] {
			return pair[1]
		}
		if pair[1] == tag && active[pair[0]] {
			return pair[0]
		}
	}
	return ""
}
