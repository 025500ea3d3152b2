package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// reportInterval is how often a loop forwards its completion delta to the
// progress reporter. It does not depend on the target rate.
const reportInterval = 250 * time.Millisecond

// barrier is a one-shot rendezvous between the loops and the scheduler.
// Every loop arrives and blocks; the scheduler waits for all of them and then
// releases them together with one shared reference instant.
type barrier struct {
	arrived  sync.WaitGroup
	released chan struct{}
	start    time.Time
}

func newBarrier(parties int) *barrier {
	b := &barrier{released: make(chan struct{})}
	b.arrived.Add(parties)
	return b
}

// wait marks the caller ready and blocks until release.
func (b *barrier) wait(ctx context.Context) (time.Time, error) {
	b.arrived.Done()
	select {
	case <-b.released:
		return b.start, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

// release blocks until every loop has arrived, then releases them all.
func (b *barrier) release() time.Time {
	b.arrived.Wait()
	b.start = time.Now()
	close(b.released)
	return b.start
}

type completion struct {
	elapsed time.Duration
	err     error
}

// loop paces one worker. All of its state is owned by the goroutine calling run.
type loop struct {
	index       int
	worker      Worker
	offset      time.Duration
	interval    time.Duration
	sizeHint    int
	maxInFlight int
	reporter    ProgressReporter
	logger      *zap.Logger

	skipWarning rate.Sometimes
}

func (l *loop) run(ctx context.Context, b *barrier, stop <-chan struct{}) (WorkerResult, error) {
	latencies := make([]time.Duration, 0, l.sizeHint)

	start, err := b.wait(ctx)
	if err != nil {
		return WorkerResult{}, err
	}

	pace := newPacer(start.Add(l.offset), l.interval)
	defer pace.stop()
	report := time.NewTicker(reportInterval)
	defer report.Stop()

	// In-flight calls only get cancelled on failure or when ctx ends;
	// a normal stop lets them finish.
	callCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	done := make(chan completion)
	var (
		dispatched   uint64
		skipped      uint64
		inFlight     int
		lastReported int
		failure      error
	)

	flush := func() {
		if n := len(latencies) - lastReported; n > 0 {
			l.reporter.Report(uint64(n))
			lastReported = len(latencies)
		}
	}

dispatching:
	for failure == nil {
		select {
		case <-pace.C():
			if l.maxInFlight > 0 && inFlight >= l.maxInFlight {
				skipped++
				l.skipWarning.Do(func() {
					l.logger.Warn("in-flight limit reached, skipping tick",
						zap.Int("loop", l.index),
						zap.Int("in_flight", inFlight),
					)
				})
			} else {
				dispatched++
				inFlight++
				begin := time.Now()
				go func() {
					err := l.worker.Run(callCtx)
					done <- completion{elapsed: time.Since(begin), err: err}
				}()
			}
			pace.advance(time.Now())
		case <-report.C:
			flush()
		case c := <-done:
			inFlight--
			if c.err != nil {
				if ctx.Err() != nil {
					break dispatching
				}
				failure = c.err
				continue
			}
			latencies = append(latencies, c.elapsed)
		case <-stop:
			break dispatching
		case <-ctx.Done():
			break dispatching
		}
	}

	if failure != nil {
		cancelCalls()
	}
	for inFlight > 0 {
		c := <-done
		inFlight--
		if c.err != nil {
			// Calls failing after the run context ended were cancelled by it.
			if failure == nil && ctx.Err() == nil {
				failure = c.err
			}
			continue
		}
		if failure == nil {
			latencies = append(latencies, c.elapsed)
		}
	}
	flush()

	if failure != nil {
		return WorkerResult{}, failure
	}
	if err := ctx.Err(); err != nil {
		return WorkerResult{}, err
	}

	l.logger.Debug("loop drained",
		zap.Int("loop", l.index),
		zap.Uint64("dispatched", dispatched),
		zap.Uint64("skipped", skipped),
	)
	return WorkerResult{
		Dispatched: dispatched,
		Skipped:    skipped,
		Latencies:  latencies,
	}, nil
}
