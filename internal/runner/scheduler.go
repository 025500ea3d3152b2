package runner

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Scheduler runs a set of workers at a fixed overall rate, one goroutine per worker.
//
// The global rate is kept by giving every loop the period interval × loops and
// staggering the loops' first ticks by one global interval each. Loops never share
// a dispatch queue, so dispatching and awaiting completions scale with the number
// of loops instead of being serialized onto one goroutine.
type Scheduler struct {
	workers     []Worker
	maxInFlight int
	logger      *zap.Logger
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxInFlight caps the number of outstanding calls per loop. Ticks arriving at
// the cap are skipped. Zero means unlimited.
func WithMaxInFlight(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// WithLogger sets the logger used by the scheduler and its loops.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler builds a scheduler with one execution loop per worker.
func NewScheduler(workers []Worker, opts ...SchedulerOption) (*Scheduler, error) {
	if len(workers) == 0 {
		return nil, ErrEmptyWorkerSet
	}
	s := &Scheduler{
		workers: append([]Worker(nil), workers...),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Concurrency returns the number of execution loops.
func (s *Scheduler) Concurrency() int {
	return len(s.workers)
}

// Run drives all workers at one dispatch per interval globally until timeout elapses,
// then drains in-flight calls. It returns one result per worker, in worker order.
//
// The timeout is measured from the instant all loops are released together. The
// first worker error aborts the run and no results are returned. When ctx ends first
// its error is returned, whatever the interrupted calls reported.
func (s *Scheduler) Run(ctx context.Context, interval, timeout time.Duration, reporter ProgressReporter) ([]WorkerResult, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if reporter == nil {
		reporter = nopProgress{}
	}

	loops := len(s.workers)
	loopInterval := interval * time.Duration(loops)
	if loopInterval/time.Duration(loops) != interval {
		return nil, fmt.Errorf("%w: interval %s × %d loops overflows", ErrRequestCountTooLarge, interval, loops)
	}
	hint := int64(timeout / loopInterval)
	if hint > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d per loop", ErrRequestCountTooLarge, hint)
	}

	b := newBarrier(loops)
	stop := make(chan struct{})
	results := make([]WorkerResult, loops)

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range s.workers {
		l := &loop{
			index:       i,
			worker:      w,
			offset:      time.Duration(i+1) * interval,
			interval:    loopInterval,
			sizeHint:    int(hint) + 1,
			maxInFlight: s.maxInFlight,
			reporter:    reporter,
			logger:      s.logger,
			skipWarning: rate.Sometimes{Interval: time.Second},
		}
		g.Go(func() error {
			res, err := l.run(gctx, b, stop)
			if err != nil {
				return fmt.Errorf("loop %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	start := b.release()
	s.logger.Debug("loops released",
		zap.Int("loops", loops),
		zap.Duration("interval", interval),
		zap.Duration("loop_interval", loopInterval),
		zap.Duration("timeout", timeout),
	)

	deadline := time.NewTimer(time.Until(start.Add(timeout)))
	select {
	case <-deadline.C:
	case <-gctx.Done():
		deadline.Stop()
	}
	close(stop)

	err := g.Wait()
	// An interrupted run reports the interruption, not the calls it cut short.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
