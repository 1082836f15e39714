package utils

import (
	"strings"
	"testing"
)

func TestCompactErrorPassesShortMessages(t *testing.T) {
	msg := "connection refused"
	if got := CompactError(msg, 100); got != msg {
		t.Errorf("short message must pass through, got %q", got)
	}
}

func TestCompactErrorKeepsHeadAndTail(t *testing.T) {
	head := strings.Repeat("H", 600)
	tail := strings.Repeat("T", 600)
	msg := head + tail

	got := CompactError(msg, 400)
	if len(got) > 400 {
		t.Fatalf("compacted length %d exceeds budget", len(got))
	}
	if !strings.HasPrefix(got, "HHH") {
		t.Error("head lost")
	}
	if !strings.HasSuffix(got, "TTT") {
		t.Error("tail lost")
	}
	if !strings.Contains(got, "[truncated]") {
		t.Error("truncation marker missing")
	}
}

func TestCompactErrorZeroBudgetUsesDefault(t *testing.T) {
	msg := strings.Repeat("x", 2*DefaultErrorBudget)
	got := CompactError(msg, 0)
	if len(got) > DefaultErrorBudget {
		t.Fatalf("length %d exceeds default budget", len(got))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 20, "short"},
		{"exactly ten..", 13, "exactly ten.."},
		{"this is a longer label", 10, "this is..."},
		{"ab", 2, "ab"},
		{"abcdef", 3, "abcdef"}, // too small to truncate meaningfully
	}

	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		bytes, want int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{4000, 1000},
	}

	for _, tt := range tests {
		if got := EstimateTokens(tt.bytes); got != tt.want {
			t.Errorf("EstimateTokens(%d) = %d, want %d", tt.bytes, got, tt.want)
		}
	}
}
