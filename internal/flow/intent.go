package flow

import (
	"strings"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// intentKeywords lists control keywords in priority order. The first group
// with a keyword contained in the utterance decides the intent.
var intentKeywords = []struct {
	intent   models.Intent
	keywords []string
}{
	{models.IntentLeave, []string{"stop", "exit", "leave", "quit"}},
	{models.IntentRestart, []string{"restart", "start over", "reset"}},
	{models.IntentSkip, []string{"skip"}},
}

// ClassifyIntent maps an utterance to a control intent by case-insensitive
// substring match. Utterances without a keyword are IntentContinue.
func ClassifyIntent(utterance string) models.Intent {
	lower := strings.ToLower(utterance)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.intent
			}
		}
	}
	return models.IntentContinue
}
