package utils

// DefaultErrorBudget caps the size of error strings surfaced to the model.
const DefaultErrorBudget = 800

// CompactError shortens long stack-like error text to fit within budget
// characters, keeping the head and tail with an ellipsis marker in between.
// Short errors pass through untouched.
func CompactError(msg string, budget int) string {
	if budget <= 0 {
		budget = DefaultErrorBudget
	}
	if len(msg) <= budget {
		return msg
	}

	const marker = "\n... [truncated] ...\n"
	if budget <= len(marker)+2 {
		return msg[:budget]
	}

	keep := budget - len(marker)
	head := keep * 2 / 3
	tail := keep - head
	return msg[:head] + marker + msg[len(msg)-tail:]
}

// Truncate cuts s to max runes-ish bytes with a trailing ellipsis. Used for
// spinner labels and log lines, not for model-visible content.
func Truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
