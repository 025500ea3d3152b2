// Package runner provides the rate-controlled execution engine for extproc-bench.
//
// The runner package drives a set of [Worker] values at a fixed global rate:
//   - One execution loop (goroutine) per worker, each paced at interval × loops
//   - Staggered start offsets so the loops together reproduce the global rate
//   - Missed ticks are skipped, never queued, so a saturated generator shows up
//     as fewer dispatches than planned
//   - Graceful drain of in-flight calls on deadline or cancellation
//
// # Basic Usage
//
// Build a scheduler from one worker per parallel slot and run it:
//
//	s, err := runner.NewScheduler(workers)
//	if err != nil {
//		return err
//	}
//	results, err := s.Run(ctx, 10*time.Millisecond, 10*time.Second, reporter)
//
// # Worker Interface
//
// The [Worker] interface defines one unit of remote work:
//
//	type Worker interface {
//		Run(ctx context.Context) error
//	}
//
// Run is invoked concurrently on the same value, once per pacing tick, without
// waiting for earlier invocations to finish.
//
// # Rate Levels
//
// [Levels] expands (start, end, multiplier, step) into the list of target rates and
// [Sweep] runs the scheduler once per rate, rejecting any level where fewer than
// [AcceptablePercentOfTarget] percent of the planned requests were dispatched.
//
// # Error Handling
//
// The first worker error aborts the whole [Scheduler.Run] call. Saturation is
// reported as a [*SaturationError]:
//
//	var satErr *runner.SaturationError
//	if errors.As(err, &satErr) {
//		fmt.Printf("reached %.1f%% of %d req/s\n", satErr.Percent, satErr.Target)
//	}
package runner
