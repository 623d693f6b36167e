// Package progress reports the start and end of pipeline phases.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/observability"
)

const (
	PhaseDeterministicMatch = "deterministic_match"
	PhaseLLMExtraction      = "llm_extraction"
	PhaseSubstitution       = "substitution"
	PhaseValidation         = "validation"
	PhaseTemplateSearch     = "template_search"
	PhaseQueryBuild         = "query_build"
	PhaseExecution          = "execution"
)

type Event struct {
	Phase   string
	Done    bool
	Err     error
	Elapsed time.Duration
	Detail  string
}

type Reporter interface {
	Report(ctx context.Context, event Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Report(context.Context, Event) {}

// LogReporter writes events to a logger and records phase durations.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, event Event) {
	attrs := append(observability.RequestAttrs(ctx), "phase", event.Phase)
	if !event.Done {
		r.logger.DebugContext(ctx, "phase started", attrs...)
		return
	}
	observability.ObservePhase(event.Phase, event.Err, event.Elapsed)
	attrs = append(attrs, "elapsed_ms", event.Elapsed.Milliseconds())
	if event.Detail != "" {
		attrs = append(attrs, "detail", event.Detail)
	}
	if event.Err != nil {
		r.logger.WarnContext(ctx, "phase failed", append(attrs, "error", event.Err)...)
		return
	}
	r.logger.DebugContext(ctx, "phase finished", attrs...)
}

// Recorder keeps events in memory, for tests and UI consumers that poll.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Report(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Phases returns the phase names of finished events in order.
func (r *Recorder) Phases() []string {
	events := r.Events()
	out := make([]string, 0, len(events))
	for _, event := range events {
		if event.Done {
			out = append(out, event.Phase)
		}
	}
	return out
}

// Start reports the beginning of phase and returns a function that reports
// its end. A nil reporter is treated as Nop.
func Start(ctx context.Context, reporter Reporter, phase string) func(err error, detail string) {
	if reporter == nil {
		reporter = Nop{}
	}
	started := time.Now()
	reporter.Report(ctx, Event{Phase: phase})
	return func(err error, detail string) {
		reporter.Report(ctx, Event{Phase: phase, Done: true, Err: err, Elapsed: time.Since(started), Detail: detail})
	}
}
