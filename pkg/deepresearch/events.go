package deepresearch

import (
	"sync/atomic"
	"time"
)

// EventType tags the kind of payload an Event carries (spec.md §6).
type EventType string

const (
	EventProgressInit  EventType = "progress-init"
	EventDepthDelta    EventType = "depth-delta"
	EventActivityDelta EventType = "activity-delta"
	EventSourceDelta   EventType = "source-delta"
	EventFinish        EventType = "finish"
)

// ActivityKind is the kind of observable work unit an activity event reports.
type ActivityKind string

const (
	ActivitySearch    ActivityKind = "search"
	ActivityExtract   ActivityKind = "extract"
	ActivityAnalyze   ActivityKind = "analyze"
	ActivityReasoning ActivityKind = "reasoning"
	ActivitySynthesis ActivityKind = "synthesis"
	ActivityThought   ActivityKind = "thought"
)

// ActivityStatus is the lifecycle state of one activity event.
type ActivityStatus string

const (
	StatusPending  ActivityStatus = "pending"
	StatusComplete ActivityStatus = "complete"
	StatusError    ActivityStatus = "error"
)

// ProgressInitPayload is the content of the progress-init event.
type ProgressInitPayload struct {
	MaxDepth   int `json:"maxDepth"`
	TotalSteps int `json:"totalSteps"`
}

// DepthDeltaPayload is the content of the depth-delta event.
type DepthDeltaPayload struct {
	Current        int `json:"current"`
	Max            int `json:"max"`
	CompletedSteps int `json:"completedSteps"`
	TotalSteps     int `json:"totalSteps"`
}

// ActivityDeltaPayload is the content of the activity-delta event.
type ActivityDeltaPayload struct {
	Type           ActivityKind   `json:"type"`
	Status         ActivityStatus `json:"status"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	Depth          int            `json:"depth"`
	CompletedSteps int            `json:"completedSteps"`
	TotalSteps     int            `json:"totalSteps"`
}

// SourceDeltaPayload is the content of the source-delta event.
type SourceDeltaPayload struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// FinishPayload is the content of the finish event.
type FinishPayload struct {
	Content string `json:"content"`
}

// Event is a tagged variant: exactly one of the *Payload fields is set,
// selected by Type. This restores the §5 ordering grammar as a compile-time
// shape rather than an untyped map (Design Notes §9 "Replacing untyped event
// channels").
type Event struct {
	Type EventType `json:"type"`

	ProgressInit  *ProgressInitPayload  `json:"-"`
	DepthDelta    *DepthDeltaPayload    `json:"-"`
	ActivityDelta *ActivityDeltaPayload `json:"-"`
	SourceDelta   *SourceDeltaPayload   `json:"-"`
	Finish        *FinishPayload        `json:"-"`
}

// Content returns the event's payload as a plain value, for callers (e.g.
// the SSE writer) that want to marshal `{type, content}` per spec.md §6
// without a type switch at every call site.
func (e Event) Content() interface{} {
	switch e.Type {
	case EventProgressInit:
		return e.ProgressInit
	case EventDepthDelta:
		return e.DepthDelta
	case EventActivityDelta:
		return e.ActivityDelta
	case EventSourceDelta:
		return e.SourceDelta
	case EventFinish:
		return e.Finish
	default:
		return nil
	}
}

// WireEvent is the JSON-on-the-wire shape of Event described in spec.md §6.
type WireEvent struct {
	Type    EventType   `json:"type"`
	Content interface{} `json:"content"`
}

// Wire converts an Event into its wire representation.
func (e Event) Wire() WireEvent {
	return WireEvent{Type: e.Type, Content: e.Content()}
}

func progressInitEvent(maxDepth, totalSteps int) Event {
	return Event{Type: EventProgressInit, ProgressInit: &ProgressInitPayload{MaxDepth: maxDepth, TotalSteps: totalSteps}}
}

func depthDeltaEvent(current, max, completed, total int) Event {
	return Event{Type: EventDepthDelta, DepthDelta: &DepthDeltaPayload{Current: current, Max: max, CompletedSteps: completed, TotalSteps: total}}
}

func activityEvent(kind ActivityKind, status ActivityStatus, message string, depth, completed, total int) Event {
	return Event{Type: EventActivityDelta, ActivityDelta: &ActivityDeltaPayload{
		Type:           kind,
		Status:         status,
		Message:        message,
		Timestamp:      time.Now(),
		Depth:          depth,
		CompletedSteps: completed,
		TotalSteps:     total,
	}}
}

func sourceDeltaEvent(url, title, description string) Event {
	return Event{Type: EventSourceDelta, SourceDelta: &SourceDeltaPayload{URL: url, Title: title, Description: description}}
}

func finishEvent(content string) Event {
	return Event{Type: EventFinish, Finish: &FinishPayload{Content: content}}
}

// Sink is the write-only, ordered, append-only event channel the Research
// Loop reports its progress on (spec.md §4.5). It never blocks the loop
// beyond a bounded buffer: once the buffer is full, further emits are
// dropped so the loop can always proceed to completion even if the consumer
// has stopped reading.
type Sink struct {
	events chan Event
	elided atomic.Bool
}

// NewSink creates a Sink with the given buffer size. A buffer of 0 means
// an emit is dropped unless a consumer is already waiting to receive it.
func NewSink(buffer int) *Sink {
	return &Sink{events: make(chan Event, buffer)}
}

// Emit sends an event, never blocking the caller. If the buffer is full the
// event is dropped and the sink remembers it elided at least one event. Emit
// is called concurrently from the extract fan-out goroutines (loop.go), so
// elided is an atomic.Bool rather than a plain field.
func (s *Sink) Emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.elided.Store(true)
	}
}

// Elided reports whether at least one event was dropped because the
// consumer fell behind.
func (s *Sink) Elided() bool { return s.elided.Load() }

// Events returns the receive-only channel consumers range over.
func (s *Sink) Events() <-chan Event { return s.events }

// Close closes the underlying channel. Callers must only call this once,
// after the producing goroutine has returned.
func (s *Sink) Close() { close(s.events) }
