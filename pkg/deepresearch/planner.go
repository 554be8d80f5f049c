package deepresearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/deepresearch-go/orchestrator/pkg/splitter"
)

// maxFindingChars bounds how much of a single finding's text is folded into
// a Planner/Synthesizer prompt. A pathologically long extraction (e.g. a
// full scraped PDF) would otherwise dominate the token budget; the teacher's
// own recursive splitter chunks exactly this kind of long text elsewhere
// (pkg/splitter, used in acquireAndIndexPhase), so it is reused here rather
// than hand-rolling a truncation.
const maxFindingChars = 4000

var findingSplitter = splitter.NewRecursiveCharacterTextSplitter(maxFindingChars, 0)

func boundFindingText(text string) string {
	if len(text) <= maxFindingChars {
		return text
	}
	chunks, err := findingSplitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return text[:maxFindingChars]
	}
	return chunks[0]
}

// formatFindings renders findings as "[From <source>]: <text>" lines, joined
// by newlines, per spec.md §4.4.
func formatFindings(findings []Finding) string {
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = fmt.Sprintf("[From %s]: %s", f.Source, boundFindingText(f.Text))
	}
	return strings.Join(lines, "\n")
}

// formatSummaries renders summaries as "[Summary]: <s>" lines.
func formatSummaries(summaries []string) string {
	lines := make([]string, len(summaries))
	for i, s := range summaries {
		lines[i] = fmt.Sprintf("[Summary]: %s", s)
	}
	return strings.Join(lines, "\n")
}

// PlanAnalysis is the structured-output contract the Planner must return
// (spec.md §4.4).
type PlanAnalysis struct {
	Summary         string   `json:"summary"`
	Gaps            []string `json:"gaps"`
	NextSteps       []string `json:"nextSteps"`
	ShouldContinue  bool     `json:"shouldContinue"`
	NextSearchTopic string   `json:"nextSearchTopic,omitempty"`
	URLToSearch     string   `json:"urlToSearch,omitempty"`
}

type planResponseEnvelope struct {
	Analysis PlanAnalysis `json:"analysis"`
}

// Planner calls the reasoning model with the current findings and returns a
// structured continuation plan (spec.md §4.4).
type Planner interface {
	Plan(ctx context.Context, topic string, findings []Finding, remaining time.Duration) (PlanAnalysis, error)
}

// Synthesizer produces the final, unstructured analysis from everything the
// loop accumulated (spec.md §4.4).
type Synthesizer interface {
	Synthesize(ctx context.Context, topic string, findings []Finding, summaries []string) (string, error)
}

const planSchemaDescription = `Return the JSON object directly without any formatting or additional text, matching this schema exactly:
{
  "analysis": {
    "summary": "string, a concise summary of what has been learned so far",
    "gaps": ["string", "remaining knowledge gaps, most important first"],
    "nextSteps": ["string", "concrete next research actions"],
    "shouldContinue": true,
    "nextSearchTopic": "string, optional, the next search query to run",
    "urlToSearch": "string, optional, a specific URL worth extracting next"
  }
}
If less than one minute of research time remains, you MUST set shouldContinue to false.`

// LLMPlanner is the reasoning-model-backed Planner, calling
// llms.Model.GenerateContent with JSON mode exactly like the legacy engine's
// planPhase/filterPhase (pkg/research/engine.go generateWithRetry), unless
// BypassJSONValidation requests best-effort parsing of an unstructured
// model's output instead.
type LLMPlanner struct {
	LLM                  llms.Model
	BypassJSONValidation bool
	MaxRetries           int
}

// NewLLMPlanner builds a Planner around an already-resolved reasoning model.
func NewLLMPlanner(llm llms.Model, bypassJSONValidation bool) *LLMPlanner {
	return &LLMPlanner{LLM: llm, BypassJSONValidation: bypassJSONValidation, MaxRetries: 3}
}

func (p *LLMPlanner) Plan(ctx context.Context, topic string, findings []Finding, remaining time.Duration) (PlanAnalysis, error) {
	remainingMinutes := remaining.Minutes()
	if remainingMinutes < 0 {
		remainingMinutes = 0
	}

	systemPrompt := "You are a research planner deciding whether to continue investigating a topic.\n\n" + planSchemaDescription
	input := fmt.Sprintf("Topic: %s\nRemaining time: %.1f minutes\n\nFindings so far:\n%s",
		topic, remainingMinutes, formatFindings(findings))

	prompts := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}

	var envelope planResponseEnvelope
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		opts := []llms.CallOption{}
		if !p.BypassJSONValidation {
			opts = append(opts, llms.WithJSONMode())
		}

		resp, err := p.LLM.GenerateContent(ctx, prompts, opts...)
		if err != nil {
			lastErr = fmt.Errorf("planner generation failed: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("planner returned no choices")
			continue
		}

		content := extractJSONObject(resp.Choices[0].Content)
		envelope = planResponseEnvelope{}
		if err := json.Unmarshal([]byte(content), &envelope); err != nil {
			lastErr = fmt.Errorf("planner response validation failed: %w (content: %s)", err, content)
			continue
		}

		// A missing remaining-budget instruction is not something we trust
		// the model to always honor; enforce it directly.
		if remainingMinutes < 1 {
			envelope.Analysis.ShouldContinue = false
		}

		return envelope.Analysis, nil
	}

	return PlanAnalysis{}, fmt.Errorf("planner failed after %d attempts: %w", maxRetries, lastErr)
}

// extractJSONObject trims any leading/trailing prose a model might wrap its
// answer in (most likely when BypassJSONValidation turns JSON mode off); Plan
// applies it to every response, in either mode. It looks for
// the first '{' and the last '}' and slices between them; if either is
// missing the original content is returned unchanged so json.Unmarshal
// produces a clear parse error.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

// LLMSynthesizer is the reasoning-model-backed Synthesizer: a single
// free-text call with a large output-token budget (spec.md §4.4).
type LLMSynthesizer struct {
	LLM           llms.Model
	MaxOutputTokens int
}

// NewLLMSynthesizer builds a Synthesizer with the spec's documented minimum
// output budget.
func NewLLMSynthesizer(llm llms.Model) *LLMSynthesizer {
	return &LLMSynthesizer{LLM: llm, MaxOutputTokens: 16000}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, topic string, findings []Finding, summaries []string) (string, error) {
	maxTokens := s.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 16000
	}

	prompt := fmt.Sprintf(
		`Write a comprehensive answer to the research topic "%s" using everything gathered below.

%s

%s

Write the final answer directly; do not restate these instructions.`,
		topic, formatFindings(findings), formatSummaries(summaries))

	resp, err := s.LLM.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithMaxTokens(maxTokens))
	if err != nil {
		return "", fmt.Errorf("synthesis generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("synthesis returned no choices")
	}

	return resp.Choices[0].Content, nil
}
