// Package deepresearch implements the iterative, time-bounded research
// orchestrator: it coordinates a search provider, an extract provider, and a
// reasoning model across successive depth levels until it converges on an
// answer or exhausts its time budget, streaming progress to an Event Sink as
// it goes.
package deepresearch

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Finding is a single piece of extracted text paired with the URL it came
// from. Immutable once appended to a ResearchState.
type Finding struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// SourceDescriptor is a weak reference to a search result surfaced to the
// Event Sink. It is never attached to a Finding.
type SourceDescriptor struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Config bundles the runtime knobs the Research Loop is constructed with.
// Nothing in the loop reads ambient/environment state directly; every value
// it needs is injected here (Design Notes §9).
type Config struct {
	MaxDepth          int
	TimeLimit         time.Duration
	MaxFailedAttempts int
	ReasoningModel    string
	BypassJSONValidation bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:          7,
		TimeLimit:         4*time.Minute + 30*time.Second,
		MaxFailedAttempts: 3,
		ReasoningModel:    "gemini-3-pro-preview",
	}
}

// Request is the caller-supplied invocation input.
type Request struct {
	Topic string

	// MaxDepth distinguishes "not provided" (nil, use Config.MaxDepth) from
	// an explicit 0 (spec.md §8: the loop body never runs, synthesis still
	// runs against an empty findings set). A bare int can't make that
	// distinction since its zero value is indistinguishable from a caller
	// requesting 0 explicitly.
	MaxDepth *int

	TimeLimit time.Duration // 0 means "use Config.TimeLimit"
}

// Result is the Research Loop's terminal, structured return value. It is
// always populated with whatever findings were accumulated, even on failure.
type Result struct {
	Success       bool
	Findings      []Finding
	Analysis      string
	Error         string
	CompletedSteps int
	TotalSteps     int
}

// ResearchState is owned exclusively by one Research Loop invocation. It is
// created fresh per call, mutated only by that loop (and its extract
// fan-out, under Mu), and discarded once the final synthesis event has been
// emitted. Nothing here is ever persisted or shared across invocations.
type ResearchState struct {
	Mu sync.Mutex

	Findings []Finding
	Summaries []string

	CurrentTopic    string
	NextSearchTopic string
	URLToSearch     string

	lastSearchResults []SearchResultItem

	CurrentDepth int
	MaxDepth     int

	FailedAttempts    int
	MaxFailedAttempts int

	CompletedSteps     int
	TotalExpectedSteps int
}

func newResearchState(topic string, maxDepth, maxFailedAttempts int) *ResearchState {
	return &ResearchState{
		CurrentTopic:       topic,
		MaxDepth:           maxDepth,
		MaxFailedAttempts:  maxFailedAttempts,
		TotalExpectedSteps: maxDepth * 5,
	}
}

func (s *ResearchState) appendFinding(f Finding) {
	s.Mu.Lock()
	s.Findings = append(s.Findings, f)
	s.Mu.Unlock()
}

func (s *ResearchState) appendSummary(sum string) {
	s.Mu.Lock()
	s.Summaries = append(s.Summaries, sum)
	s.Mu.Unlock()
}

func (s *ResearchState) snapshotFindings() []Finding {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	out := make([]Finding, len(s.Findings))
	copy(out, s.Findings)
	return out
}

// incrementCompletedSteps is best-effort progress reporting: the counter is
// advanced before the caller emits the corresponding activity-delta, so a
// dropped/elided event still leaves the counter advanced. This mirrors the
// legacy engine's behavior and is called out as an accepted approximation
// (spec.md Design Notes §9, second bullet), not a defect to fix.
func (s *ResearchState) incrementCompletedSteps() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.CompletedSteps++
	return s.CompletedSteps
}

// ErrDeadlineExhausted names a normal (non-fatal) termination: the loop's
// wall-clock budget ran out before maxDepth was reached. Loop.Run does not
// return it; a deadline stop still ends in a successful Result.
var ErrDeadlineExhausted = errors.New("deep research: time limit reached")

// ErrTooManyFailures names a normal (non-fatal) termination: search/planner
// failures reached Config.MaxFailedAttempts. Loop.Run does not return it; the
// loop proceeds to synthesis as usual.
var ErrTooManyFailures = errors.New("deep research: too many consecutive failures")

// FatalError wraps an unexpected failure that aborts the run entirely. The
// loop builds one for a synthesizer failure and stores only its message in
// Result.Error (a string), so callers of Loop.Run see the text, not an error
// value they could inspect with errors.Is or errors.As.
type FatalError struct {
	Phase string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("deep research: fatal error in %s: %v", e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
