package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector aggregates latency samples in a thread-safe manner.
type Collector struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	count      int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
}

// LevelStats summarizes one rate level.
type LevelStats struct {
	TargetRate      uint64        `json:"target_rate"`
	Dispatched      uint64        `json:"dispatched"`
	Completed       int64         `json:"completed"`
	Duration        time.Duration `json:"-"`
	AchievedRate    float64       `json:"achieved_rate"`
	PercentOfTarget float64       `json:"percent_of_target"`
	MinLatency      time.Duration `json:"-"`
	MaxLatency      time.Duration `json:"-"`
	MeanLatency     time.Duration `json:"-"`
	P50Latency      time.Duration `json:"-"`
	P90Latency      time.Duration `json:"-"`
	P99Latency      time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	DurationMs    float64 `json:"duration_ms"`
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{hist: h}
}

// RecordLatency records one completed call.
func (c *Collector) RecordLatency(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	us := latency.Microseconds()
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)

	c.sumLatency += latency
	if c.count == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
	c.count++
}

// Stats computes the statistics of a level that targeted rate for elapsed and
// dispatched the given number of calls.
func (c *Collector) Stats(rate uint64, elapsed time.Duration, dispatched uint64) LevelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := LevelStats{
		TargetRate: rate,
		Dispatched: dispatched,
		Completed:  c.count,
		Duration:   elapsed,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if c.count > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / c.count)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	if elapsed > 0 {
		stats.AchievedRate = float64(dispatched) / elapsed.Seconds()
		if expected := float64(rate) * elapsed.Seconds(); expected > 0 {
			stats.PercentOfTarget = 100 * float64(dispatched) / expected
		}
	}

	stats.MinLatencyMs = float64(stats.MinLatency) / float64(time.Millisecond)
	stats.MaxLatencyMs = float64(stats.MaxLatency) / float64(time.Millisecond)
	stats.MeanLatencyMs = float64(stats.MeanLatency) / float64(time.Millisecond)
	stats.P50LatencyMs = float64(stats.P50Latency) / float64(time.Millisecond)
	stats.P90LatencyMs = float64(stats.P90Latency) / float64(time.Millisecond)
	stats.P99LatencyMs = float64(stats.P99Latency) / float64(time.Millisecond)
	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)

	return stats
}

// Summarize builds the statistics of one level from its raw samples.
func Summarize(rate uint64, elapsed time.Duration, dispatched uint64, latencies []time.Duration) LevelStats {
	c := NewCollector()
	for _, l := range latencies {
		c.RecordLatency(l)
	}
	return c.Stats(rate, elapsed, dispatched)
}
