package agent

import (
	"strings"
)

// defaultIntentPhrases mark a reply that announces an action without
// performing it. Matching is case-insensitive.
var defaultIntentPhrases = []string{
	"i'll open",
	"i'll read",
	"i'll list",
	"i'll check",
	"i'll run",
	"i'll create",
	"i'll write",
	"i'll edit",
	"i'll search",
	"i will open",
	"i will read",
	"i will run",
	"let me open",
	"let me read",
	"let me list",
	"let me check",
	"let me run",
	"let me create",
	"let me search",
	"let me look",
	"going to open",
	"going to run",
	"now i'll",
	"next, i'll",
	"next i'll",
}

// defaultCompletionPhrases suppress nudging: the model is wrapping up, not
// stalling.
var defaultCompletionPhrases = []string{
	"successfully created",
	"successfully updated",
	"successfully completed",
	"task is complete",
	"task complete",
	"all done",
	"done!",
	"finished",
	"completed successfully",
	"is now complete",
	"have been completed",
}

const nudgeMessage = "You stated an action but did not perform it. Execute the implied tool call now instead of describing it."

// NudgeConfig is the phrase set driving the nudge rule. Empty lists fall
// back to the defaults, so the zero value is usable.
type NudgeConfig struct {
	IntentPhrases     []string
	CompletionPhrases []string
}

// shouldNudge inspects a no-tool assistant reply. When the model narrated an
// action instead of acting, it returns a synthesized user message that tells
// the model to act. The synthesized message itself never matches, so a nudge
// cannot cascade.
func (c NudgeConfig) shouldNudge(text string) (string, bool) {
	intent := c.IntentPhrases
	if len(intent) == 0 {
		intent = defaultIntentPhrases
	}
	completion := c.CompletionPhrases
	if len(completion) == 0 {
		completion = defaultCompletionPhrases
	}

	lower := strings.ToLower(text)

	for _, phrase := range completion {
		if strings.Contains(lower, phrase) {
			return "", false
		}
	}

	for _, phrase := range intent {
		if strings.Contains(lower, phrase) {
			return nudgeMessage, true
		}
	}

	return "", false
}
