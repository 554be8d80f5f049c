package deepresearch

import (
	"strings"
	"testing"
)

func TestBoundFindingText(t *testing.T) {
	short := "a short finding"
	if got := boundFindingText(short); got != short {
		t.Fatalf("short text should pass through unchanged, got %q", got)
	}

	long := strings.Repeat("x", maxFindingChars*2)
	got := boundFindingText(long)
	if len(got) > maxFindingChars {
		t.Fatalf("bounded text exceeds maxFindingChars: got %d chars", len(got))
	}
	if len(got) == 0 {
		t.Fatalf("bounded text must not be empty")
	}
}

func TestFormatFindings(t *testing.T) {
	findings := []Finding{
		{Text: "water boils at 100C", Source: "https://a/"},
		{Text: "at sea level", Source: "https://b/"},
	}
	got := formatFindings(findings)
	want := "[From https://a/]: water boils at 100C\n[From https://b/]: at sea level"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatSummaries(t *testing.T) {
	got := formatSummaries([]string{"first pass", "second pass"})
	want := "[Summary]: first pass\n[Summary]: second pass"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean json", `{"a":1}`, `{"a":1}`},
		{"wrapped in prose", "Sure, here's the plan:\n```json\n{\"a\":1}\n```\nLet me know if you need more.", `{"a":1}`},
		{"no braces returns original", "no json here", "no json here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONObject(tt.input); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsReasoningModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"gemini-3-pro-preview", true},
		{"claude-opus-4", true},
		{"o1-preview", true},
		{"gpt-4o-mini", false},
		{"llama-3-70b", false},
	}
	for _, tt := range tests {
		if got := IsReasoningModel(tt.model); got != tt.want {
			t.Fatalf("IsReasoningModel(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
