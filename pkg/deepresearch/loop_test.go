package deepresearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeSearchProvider returns a scripted response per call, advancing
// through the script each time Search is invoked.
type fakeSearchProvider struct {
	name      string
	responses []SearchResponse
	errors    []error
	calls     int
}

func (f *fakeSearchProvider) Name() string { return f.name }

func (f *fakeSearchProvider) Search(ctx context.Context, query string) (SearchResponse, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errors) {
		err = f.errors[i]
	}
	return f.responses[i], err
}

// fakeExtractClient fails for any URL containing a configured substring and
// otherwise returns one finding whose text echoes the URL.
type fakeExtractClient struct {
	failSubstr string
}

func (f *fakeExtractClient) Extract(ctx context.Context, targetURL, prompt string) ExtractResponse {
	if f.failSubstr != "" && strings.Contains(targetURL, f.failSubstr) {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("could not reach %s", targetURL)}
	}
	return ExtractResponse{Success: true, Texts: []string{"fact about " + targetURL}}
}

// fakePlanner returns a scripted plan per call, or a scripted error.
type fakePlanner struct {
	plans  []PlanAnalysis
	errors []error
	calls  int
}

func (f *fakePlanner) Plan(ctx context.Context, topic string, findings []Finding, remaining time.Duration) (PlanAnalysis, error) {
	i := f.calls
	f.calls++
	if i < len(f.errors) && f.errors[i] != nil {
		return PlanAnalysis{}, f.errors[i]
	}
	if i >= len(f.plans) {
		i = len(f.plans) - 1
	}
	return f.plans[i], nil
}

type fakeSynthesizer struct {
	text string
	err  error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, topic string, findings []Finding, summaries []string) (string, error) {
	return f.text, f.err
}

func drainEvents(sink *Sink) []Event {
	var out []Event
	for e := range sink.Events() {
		out = append(out, e)
	}
	return out
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func countEventType(events []Event, t EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func intPtr(v int) *int { return &v }

func TestLoop_HappyPathDepthOne(t *testing.T) {
	search := &fakeSearchProvider{
		name: "fake",
		responses: []SearchResponse{{
			Success: true,
			Results: []SearchResultItem{
				{URL: "https://a/", Title: "A"},
				{URL: "https://b/", Title: "B"},
				{URL: "https://c/", Title: "C"},
			},
		}},
	}
	planner := &fakePlanner{plans: []PlanAnalysis{{Summary: "done", ShouldContinue: false}}}
	synth := &fakeSynthesizer{text: "final answer"}

	loop := NewLoop(DefaultConfig(), NewSearchManager(search, nil), &fakeExtractClient{}, planner, synth, nil)

	sink, resultCh := loop.Run(context.Background(), Request{Topic: "What is X?", MaxDepth: intPtr(1)})
	events := drainEvents(sink)
	result := <-resultCh

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if len(result.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(result.Findings))
	}
	if result.Analysis != "final answer" {
		t.Fatalf("unexpected analysis: %q", result.Analysis)
	}

	types := eventTypes(events)
	if types[0] != EventProgressInit {
		t.Fatalf("expected progress-init first, got %v", types[0])
	}
	if types[len(types)-1] != EventFinish {
		t.Fatalf("expected finish last, got %v", types[len(types)-1])
	}

	finishCount := 0
	for _, e := range events {
		if e.Type == EventFinish {
			finishCount++
		}
	}
	if finishCount != 1 {
		t.Fatalf("expected exactly one finish event, got %d", finishCount)
	}
}

func TestLoop_MaxDepthZero(t *testing.T) {
	planner := &fakePlanner{plans: []PlanAnalysis{{ShouldContinue: false}}}
	synth := &fakeSynthesizer{text: "empty synthesis"}
	search := &fakeSearchProvider{name: "fake", responses: []SearchResponse{{Success: true}}}

	loop := NewLoop(DefaultConfig(), NewSearchManager(search, nil), &fakeExtractClient{}, planner, synth, nil)
	sink, resultCh := loop.Run(context.Background(), Request{Topic: "anything", MaxDepth: intPtr(0)})
	events := drainEvents(sink)
	result := <-resultCh

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("expected zero findings, got %d", len(result.Findings))
	}
	if n := countEventType(events, EventProgressInit); n != 1 {
		t.Fatalf("expected exactly one progress-init event, got %d: %v", n, eventTypes(events))
	}
	if n := countEventType(events, EventFinish); n != 1 {
		t.Fatalf("expected exactly one finish event, got %d: %v", n, eventTypes(events))
	}
	if n := countEventType(events, EventDepthDelta); n != 0 {
		t.Fatalf("expected no depth-delta events at maxDepth=0, got %d", n)
	}
	if search.calls != 0 {
		t.Fatalf("search should never be called when maxDepth=0, got %d calls", search.calls)
	}
}

func TestLoop_ExtractPartialFailure(t *testing.T) {
	search := &fakeSearchProvider{
		name: "fake",
		responses: []SearchResponse{{
			Success: true,
			Results: []SearchResultItem{
				{URL: "https://good-a.example/"},
				{URL: "https://bad.example/"},
				{URL: "https://good-b.example/"},
			},
		}},
	}
	planner := &fakePlanner{plans: []PlanAnalysis{{ShouldContinue: false}}}
	synth := &fakeSynthesizer{text: "ok"}

	loop := NewLoop(DefaultConfig(), NewSearchManager(search, nil), &fakeExtractClient{failSubstr: "bad.example"}, planner, synth, nil)
	sink, resultCh := loop.Run(context.Background(), Request{Topic: "t", MaxDepth: intPtr(1)})
	events := drainEvents(sink)
	result := <-resultCh

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings after one extract failure, got %d", len(result.Findings))
	}
	for _, f := range result.Findings {
		if strings.Contains(f.Source, "bad.example") {
			t.Fatalf("failing URL must not appear as a finding source: %+v", f)
		}
	}

	foundErrorActivity := false
	for _, e := range events {
		if e.Type == EventActivityDelta && e.ActivityDelta.Type == ActivityExtract && e.ActivityDelta.Status == StatusError {
			foundErrorActivity = true
			if !strings.Contains(e.ActivityDelta.Message, "bad.example") {
				t.Fatalf("extract error message should name the failing URL: %q", e.ActivityDelta.Message)
			}
		}
	}
	if !foundErrorActivity {
		t.Fatalf("expected an extract error activity event")
	}
}

func TestLoop_PlannerStopsWithGaps(t *testing.T) {
	search := &fakeSearchProvider{name: "fake", responses: []SearchResponse{{Success: true, Results: []SearchResultItem{{URL: "https://a/"}}}}}
	planner := &fakePlanner{plans: []PlanAnalysis{{Summary: "s", Gaps: []string{"g1", "g2"}, ShouldContinue: false}}}
	synth := &fakeSynthesizer{text: "final"}

	loop := NewLoop(DefaultConfig(), NewSearchManager(search, nil), &fakeExtractClient{}, planner, synth, nil)
	_, resultCh := loop.Run(context.Background(), Request{Topic: "orig", MaxDepth: intPtr(3)})
	result := <-resultCh

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if search.calls != 1 {
		t.Fatalf("expected loop to stop after depth 1 despite non-empty gaps, got %d search calls", search.calls)
	}
}

func TestLoop_ThreeConsecutivePlannerFailures(t *testing.T) {
	search := &fakeSearchProvider{name: "fake", responses: []SearchResponse{{Success: true, Results: []SearchResultItem{{URL: "https://a/"}}}}}
	planner := &fakePlanner{errors: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	synth := &fakeSynthesizer{text: "final"}

	cfg := DefaultConfig()
	cfg.MaxFailedAttempts = 3
	loop := NewLoop(cfg, NewSearchManager(search, nil), &fakeExtractClient{}, planner, synth, nil)
	_, resultCh := loop.Run(context.Background(), Request{Topic: "t", MaxDepth: intPtr(7)})
	result := <-resultCh

	if !result.Success {
		t.Fatalf("expected success (synthesis still attempted), got %q", result.Error)
	}
	if search.calls != 3 {
		t.Fatalf("expected exactly 3 depths entered before the failure cap, got %d", search.calls)
	}
}

func TestLoop_DeadlineExhaustionStillSynthesizes(t *testing.T) {
	search := &fakeSearchProvider{name: "fake", responses: []SearchResponse{{Success: true, Results: []SearchResultItem{{URL: "https://a/"}}}}}
	planner := &fakePlanner{plans: []PlanAnalysis{{ShouldContinue: true, Gaps: []string{"g1"}}}}
	synth := &fakeSynthesizer{text: "final"}

	cfg := DefaultConfig()
	loop := NewLoop(cfg, NewSearchManager(search, nil), &fakeExtractClient{}, planner, synth, nil)

	// A 1ns time limit has already elapsed at the first deadline check, so
	// the loop breaks before entering any depth and goes straight to
	// synthesis (spec.md §8 boundary case).
	_, resultCh := loop.Run(context.Background(), Request{Topic: "t", MaxDepth: intPtr(7), TimeLimit: time.Nanosecond})
	result := <-resultCh

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if result.Analysis != "final" {
		t.Fatalf("expected synthesis to still run on deadline exhaustion, got %q", result.Analysis)
	}
}

func TestLoop_SynthesisFailureIsFatal(t *testing.T) {
	search := &fakeSearchProvider{name: "fake", responses: []SearchResponse{{Success: true}}}
	planner := &fakePlanner{plans: []PlanAnalysis{{ShouldContinue: false}}}
	synth := &fakeSynthesizer{err: errors.New("model unavailable")}

	loop := NewLoop(DefaultConfig(), NewSearchManager(search, nil), &fakeExtractClient{}, planner, synth, nil)
	_, resultCh := loop.Run(context.Background(), Request{Topic: "t", MaxDepth: intPtr(1)})
	result := <-resultCh

	if result.Success {
		t.Fatalf("expected failure when synthesis errors")
	}
	if result.Error == "" {
		t.Fatalf("expected a non-empty error")
	}
}

func TestResolveReasoningModel(t *testing.T) {
	tests := []struct {
		name       string
		requested  string
		configured string
		bypass     bool
		want       string
		wantErr    bool
	}{
		{"qualifying requested model wins", "gemini-3-pro-preview", "gemini-3-flash-preview", false, "gemini-3-pro-preview", false},
		{"non-qualifying falls back to default", "gpt-4o-mini", "gemini-3-pro-preview", false, "gemini-3-pro-preview", false},
		{"empty requested uses default", "", "gemini-3-pro-preview", false, "gemini-3-pro-preview", false},
		{"bypass allows non-qualifying model", "gpt-4o-mini", "gemini-3-pro-preview", true, "gpt-4o-mini", false},
		{"non-qualifying with no default errors", "gpt-4o-mini", "", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveReasoningModel(tt.requested, tt.configured, tt.bypass)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
