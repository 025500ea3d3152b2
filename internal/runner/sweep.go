package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/extproc-bench/internal/metrics"
	"github.com/torosent/extproc-bench/internal/tracing"
)

// AcceptablePercentOfTarget is the share of planned requests a level must dispatch to
// be considered valid. Below it the generator, not the target, was the bottleneck.
const AcceptablePercentOfTarget = 95.0

// LevelResult aggregates the loops of one rate level.
type LevelResult struct {
	Rate       uint64
	Duration   time.Duration
	Dispatched uint64
	Skipped    uint64
	Latencies  []time.Duration
}

// ExpectedCount is the number of requests the level should have dispatched.
func (r LevelResult) ExpectedCount() float64 {
	return float64(r.Rate) * r.Duration.Seconds()
}

// AchievedRate is the dispatched count per second of test duration.
func (r LevelResult) AchievedRate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Dispatched) / r.Duration.Seconds()
}

// PercentOfTarget is 100 × dispatched / expected.
func (r LevelResult) PercentOfTarget() float64 {
	expected := r.ExpectedCount()
	if expected <= 0 {
		return 0
	}
	return 100 * float64(r.Dispatched) / expected
}

// Aggregate sums dispatched counts and concatenates latencies across loops.
func Aggregate(rate uint64, duration time.Duration, results []WorkerResult) LevelResult {
	total := 0
	for _, r := range results {
		total += len(r.Latencies)
	}
	level := LevelResult{
		Rate:      rate,
		Duration:  duration,
		Latencies: make([]time.Duration, 0, total),
	}
	for _, r := range results {
		level.Dispatched += r.Dispatched
		level.Skipped += r.Skipped
		level.Latencies = append(level.Latencies, r.Latencies...)
	}
	return level
}

// Sweep runs the scheduler once per target rate for a fixed duration.
type Sweep struct {
	scheduler *Scheduler
	duration  time.Duration
	writer    ReportWriter
	progress  ProgressFactory
	logger    *zap.Logger
	tracer    trace.Tracer
}

// SweepOption customizes a Sweep.
type SweepOption func(*Sweep)

// WithProgress sets the per-level progress factory.
func WithProgress(factory ProgressFactory) SweepOption {
	return func(s *Sweep) {
		if factory != nil {
			s.progress = factory
		}
	}
}

// WithSweepLogger sets the logger used for per-level summaries.
func WithSweepLogger(logger *zap.Logger) SweepOption {
	return func(s *Sweep) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer emits one span per rate level.
func WithTracer(tracer trace.Tracer) SweepOption {
	return func(s *Sweep) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewSweep creates a level runner writing each valid level through writer.
func NewSweep(scheduler *Scheduler, duration time.Duration, writer ReportWriter, opts ...SweepOption) (*Sweep, error) {
	if scheduler == nil {
		return nil, ErrEmptyWorkerSet
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if writer == nil {
		return nil, errors.New("report writer is required")
	}
	s := &Sweep{
		scheduler: scheduler,
		duration:  duration,
		writer:    writer,
		progress:  func(uint64, uint64) LevelProgress { return nopProgress{} },
		logger:    zap.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("extproc-bench"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run tests every rate in increasing order. It stops at the first failing level and
// returns the statistics of the levels completed before it.
func (s *Sweep) Run(ctx context.Context, rates []uint64) ([]metrics.LevelStats, error) {
	completed := make([]metrics.LevelStats, 0, len(rates))
	for _, rate := range rates {
		stats, err := s.RunLevel(ctx, rate)
		if err != nil {
			return completed, err
		}
		completed = append(completed, stats)
	}
	return completed, nil
}

// RunLevel tests a single rate: schedule, validate against the target, then persist.
func (s *Sweep) RunLevel(ctx context.Context, rate uint64) (stats metrics.LevelStats, err error) {
	if rate == 0 {
		return metrics.LevelStats{}, ErrInvalidLevels
	}

	ctx, span := tracing.StartLevelSpan(ctx, s.tracer, rate)
	defer func() {
		tracing.EndSpan(span, err,
			attribute.Int64("extproc_bench.dispatched", int64(stats.Dispatched)),
			attribute.Float64("extproc_bench.percent_of_target", stats.PercentOfTarget),
		)
	}()

	interval := time.Second / time.Duration(rate)
	if interval <= 0 {
		return metrics.LevelStats{}, fmt.Errorf("%w: %d req/s is above 1 request per nanosecond", ErrInvalidInterval, rate)
	}
	// Pad the window by a tenth of an interval so the final tick of the window does
	// not race the deadline.
	timeout := s.duration + interval/10

	expected := uint64(float64(rate) * s.duration.Seconds())
	progress := s.progress(rate, expected)
	defer func() {
		if err != nil {
			progress.Abort(err)
		}
	}()

	log := s.logger.With(zap.Uint64("target_rate", rate))
	log.Info("level started",
		zap.Duration("duration", s.duration),
		zap.Duration("interval", interval),
		zap.Int("loops", s.scheduler.Concurrency()),
	)

	results, err := s.scheduler.Run(ctx, interval, timeout, progress)
	if err != nil {
		return metrics.LevelStats{}, err
	}

	level := Aggregate(rate, s.duration, results)
	stats = metrics.Summarize(rate, s.duration, level.Dispatched, level.Latencies)

	if percent := level.PercentOfTarget(); percent < AcceptablePercentOfTarget {
		log.Warn("level saturated",
			zap.Uint64("dispatched", level.Dispatched),
			zap.Uint64("skipped", level.Skipped),
			zap.Float64("percent_of_target", percent),
		)
		return stats, &SaturationError{
			Target:   rate,
			Achieved: level.AchievedRate(),
			Percent:  percent,
		}
	}

	if err := s.writer.Write(rate, level.Latencies); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrWriteReport, err)
	}

	progress.Finish(stats)
	log.Info("level completed",
		zap.Uint64("dispatched", stats.Dispatched),
		zap.Float64("percent_of_target", stats.PercentOfTarget),
		zap.Duration("mean", stats.MeanLatency),
		zap.Duration("p99", stats.P99Latency),
		zap.Duration("max", stats.MaxLatency),
	)
	return stats, nil
}
