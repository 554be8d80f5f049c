package deepresearch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loop is the Research Loop orchestrator (spec.md §4.1): it owns the
// Research State for one invocation and issues Search→Extract→Analyze
// cycles up to maxDepth times under a wall-clock time limit, finalizing
// with a Synthesizer call before closing its Event Sink.
type Loop struct {
	Config      Config
	Search      *SearchManager
	Extract     ExtractClient
	Planner     Planner
	Synthesizer Synthesizer
	Logger      *slog.Logger
}

// NewLoop builds a Research Loop from its injected collaborators. Nothing
// here reads ambient/environment state — see spec.md Design Notes §9.
func NewLoop(cfg Config, search *SearchManager, extract ExtractClient, planner Planner, synth Synthesizer, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{Config: cfg, Search: search, Extract: extract, Planner: planner, Synthesizer: synth, Logger: logger}
}

// Run starts a Research Loop invocation in the background and returns its
// Event Sink plus a channel that receives exactly one terminal Result once
// the run completes. The Sink is closed after the Result is sent.
func (l *Loop) Run(ctx context.Context, req Request) (*Sink, <-chan Result) {
	maxDepth := l.Config.MaxDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	timeLimit := req.TimeLimit
	if timeLimit <= 0 {
		timeLimit = l.Config.TimeLimit
	}
	maxFailedAttempts := l.Config.MaxFailedAttempts
	if maxFailedAttempts <= 0 {
		maxFailedAttempts = 3
	}

	sink := NewSink(64)
	resultCh := make(chan Result, 1)
	state := newResearchState(req.Topic, maxDepth, maxFailedAttempts)

	go func() {
		defer sink.Close()
		defer close(resultCh)
		resultCh <- l.run(ctx, sink, state, timeLimit)
	}()

	return sink, resultCh
}

// run executes the algorithm of spec.md §4.1. A recover() guards the whole
// body so that an unhandled panic in any collaborator never crosses the
// orchestrator boundary (spec.md §7 "Never surface an uncaught exception");
// it is converted into the same failure Result a caught error would produce.
func (l *Loop) run(ctx context.Context, sink *Sink, state *ResearchState, timeLimit time.Duration) (result Result) {
	origTopic := state.CurrentTopic
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			l.emit(sink, state, ActivityThought, StatusError, fmt.Sprintf("Research failed: %v", r))
			result = Result{
				Success:        false,
				Findings:       state.snapshotFindings(),
				Error:          fmt.Sprintf("%v", r),
				CompletedSteps: state.CompletedSteps,
				TotalSteps:     state.TotalExpectedSteps,
			}
		}
	}()

	sink.Emit(progressInitEvent(state.MaxDepth, state.TotalExpectedSteps))

	for state.CurrentDepth < state.MaxDepth {
		if time.Since(start) >= timeLimit || ctx.Err() != nil {
			break
		}

		state.CurrentDepth++
		sink.Emit(depthDeltaEvent(state.CurrentDepth, state.MaxDepth, state.CompletedSteps, state.TotalExpectedSteps))

		if !l.searchPhase(ctx, sink, state) {
			if state.FailedAttempts >= state.MaxFailedAttempts {
				break
			}
			continue
		}

		l.extractPhase(ctx, sink, state)

		plan, ok := l.analyzePhase(ctx, sink, state, origTopic, timeLimit-time.Since(start))
		if !ok {
			if state.FailedAttempts >= state.MaxFailedAttempts {
				break
			}
			continue
		}

		if !plan.ShouldContinue || len(plan.Gaps) == 0 {
			break
		}
		state.CurrentTopic = plan.Gaps[0]
	}

	return l.synthesize(ctx, sink, state, origTopic)
}

// searchPhase runs the Search step of one depth. It returns false when the
// search failed (caller decides whether to break or continue based on
// failedAttempts) and true when results (possibly zero) were obtained.
func (l *Loop) searchPhase(ctx context.Context, sink *Sink, state *ResearchState) bool {
	searchTopic := state.NextSearchTopic
	if searchTopic == "" {
		searchTopic = state.CurrentTopic
	}

	l.emit(sink, state, ActivitySearch, StatusPending, fmt.Sprintf("Searching for %s", searchTopic))

	resp, err := l.Search.Search(ctx, searchTopic)
	if err != nil || !resp.Success {
		reason := resp.Error
		if err != nil {
			reason = err.Error()
		}
		l.emit(sink, state, ActivitySearch, StatusError, fmt.Sprintf("Search failed: %s", reason))
		state.Mu.Lock()
		state.FailedAttempts++
		state.Mu.Unlock()
		return false
	}

	l.emit(sink, state, ActivitySearch, StatusComplete, fmt.Sprintf("Found %d results", len(resp.Results)))
	for _, r := range resp.Results {
		sink.Emit(sourceDeltaEvent(r.URL, r.Title, r.Description))
	}

	state.Mu.Lock()
	state.lastSearchResults = resp.Results
	state.Mu.Unlock()

	return true
}

// extractPhase fans out up to 4 concurrent extract calls (up to 3
// search-derived URLs plus one Planner-hinted URL, spec.md §5) and appends
// every returned Finding to state. Individual extract failures are
// swallowed: spec.md §4.1(d)/§7 treats a failing URL as contributing zero
// findings, not as a loop-level error.
func (l *Loop) extractPhase(ctx context.Context, sink *Sink, state *ResearchState) {
	state.Mu.Lock()
	results := state.lastSearchResults
	urlHint := state.URLToSearch
	topic := state.CurrentTopic
	state.Mu.Unlock()

	urls := make([]string, 0, 4)
	if urlHint != "" {
		// spec.md Design Notes §9 open question: the Planner's URL hint is
		// filtered here when empty rather than forwarded as a call on "",
		// since there is nothing for the Extract Client to usefully do
		// with an empty URL.
		urls = append(urls, urlHint)
	}
	for i, r := range results {
		if i >= 3 {
			break
		}
		urls = append(urls, r.URL)
	}

	prompt := fmt.Sprintf("Extract information relevant to: %s", topic)

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(targetURL string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.emit(sink, state, ActivityExtract, StatusError, fmt.Sprintf("Extract failed for %s: %v", targetURL, r))
				}
			}()
			l.emit(sink, state, ActivityExtract, StatusPending, fmt.Sprintf("Extracting %s", targetURL))

			resp := l.Extract.Extract(ctx, targetURL, prompt)
			if !resp.Success {
				l.emit(sink, state, ActivityExtract, StatusError, fmt.Sprintf("Extract failed for %s: %s", targetURL, resp.Error))
				return
			}

			for _, text := range resp.Texts {
				state.appendFinding(Finding{Text: text, Source: targetURL})
			}
			l.emit(sink, state, ActivityExtract, StatusComplete, fmt.Sprintf("Extracted %s", targetURL))
		}(u)
	}
	wg.Wait()
}

// analyzePhase calls the Planner and applies its output to state. ok is
// false when the Planner call failed.
func (l *Loop) analyzePhase(ctx context.Context, sink *Sink, state *ResearchState, origTopic string, remaining time.Duration) (PlanAnalysis, bool) {
	l.emit(sink, state, ActivityAnalyze, StatusPending, "Analyzing findings")

	plan, err := l.Planner.Plan(ctx, origTopic, state.snapshotFindings(), remaining)
	if err != nil {
		l.emit(sink, state, ActivityAnalyze, StatusError, fmt.Sprintf("Analysis failed: %v", err))
		state.Mu.Lock()
		state.FailedAttempts++
		state.Mu.Unlock()
		return PlanAnalysis{}, false
	}

	state.Mu.Lock()
	state.NextSearchTopic = plan.NextSearchTopic
	state.URLToSearch = plan.URLToSearch
	state.Mu.Unlock()
	state.appendSummary(plan.Summary)

	l.emit(sink, state, ActivityAnalyze, StatusComplete, plan.Summary)
	return plan, true
}

// synthesize runs the terminal Synthesizer call and emits the finish event
// on success. A Synthesizer failure is fatal (spec.md §7): it still returns
// whatever findings were accumulated, but Success is false.
func (l *Loop) synthesize(ctx context.Context, sink *Sink, state *ResearchState, origTopic string) Result {
	l.emit(sink, state, ActivitySynthesis, StatusPending, "Preparing final analysis")

	findings := state.snapshotFindings()
	analysis, err := l.Synthesizer.Synthesize(ctx, origTopic, findings, state.Summaries)
	if err != nil {
		l.emit(sink, state, ActivityThought, StatusError, fmt.Sprintf("Research failed: %v", err))
		return Result{
			Success:        false,
			Findings:       findings,
			Error:          (&FatalError{Phase: "synthesis", Err: err}).Error(),
			CompletedSteps: state.CompletedSteps,
			TotalSteps:     state.TotalExpectedSteps,
		}
	}

	l.emit(sink, state, ActivitySynthesis, StatusComplete, "Research completed")
	sink.Emit(finishEvent(analysis))

	return Result{
		Success:        true,
		Findings:       findings,
		Analysis:       analysis,
		CompletedSteps: state.CompletedSteps,
		TotalSteps:     state.TotalExpectedSteps,
	}
}

// emit builds and sends an activity-delta event, advancing
// state.CompletedSteps first when the activity is completing. This is
// safe to call from concurrent extract goroutines: CompletedSteps and
// CurrentDepth reads/writes all go through state.Mu or happen-before a
// goroutine's start.
func (l *Loop) emit(sink *Sink, state *ResearchState, kind ActivityKind, status ActivityStatus, message string) {
	var completed int
	if status == StatusComplete {
		completed = state.incrementCompletedSteps()
	} else {
		state.Mu.Lock()
		completed = state.CompletedSteps
		state.Mu.Unlock()
	}

	sink.Emit(activityEvent(kind, status, message, state.CurrentDepth, completed, state.TotalExpectedSteps))
}
