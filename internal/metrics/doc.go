// Package metrics summarizes the latency samples of a rate level.
//
// Samples are folded into an HDR histogram (1µs to 60s, 3 significant figures) for
// percentiles, while min, max and mean are tracked exactly:
//
//	stats := metrics.Summarize(rate, duration, dispatched, latencies)
//	fmt.Println(stats.P99Latency)
//
// A [Collector] can also be fed incrementally from several goroutines with
// [Collector.RecordLatency].
package metrics
