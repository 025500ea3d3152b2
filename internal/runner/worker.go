package runner

import (
	"context"
	"time"

	"github.com/torosent/extproc-bench/internal/metrics"
)

// Worker performs exactly one unit of remote work per Run call.
// Implementations must be safe for overlapping Run calls on the same value.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc adapts an ordinary function to the Worker interface.
type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// ProgressReporter receives "n more completed" notifications.
// Report is called concurrently from every loop.
type ProgressReporter interface {
	Report(n uint64)
}

// LevelProgress is a ProgressReporter scoped to one rate level. Exactly one of
// Finish or Abort is called when the level ends.
type LevelProgress interface {
	ProgressReporter
	Finish(stats metrics.LevelStats)
	Abort(err error)
}

// ProgressFactory creates the progress tracker for one rate level.
type ProgressFactory func(rate, expected uint64) LevelProgress

// ReportWriter persists the latency samples of one rate level.
type ReportWriter interface {
	Write(rate uint64, latencies []time.Duration) error
}

// WorkerResult summarizes one execution loop.
type WorkerResult struct {
	Dispatched uint64
	// Skipped counts pacing ticks dropped because the loop was at its in-flight cap.
	Skipped   uint64
	Latencies []time.Duration
}

type nopProgress struct{}

func (nopProgress) Report(uint64)             {}
func (nopProgress) Finish(metrics.LevelStats) {}
func (nopProgress) Abort(error)               {}
