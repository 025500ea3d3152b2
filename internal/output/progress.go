package output

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/torosent/extproc-bench/internal/metrics"
)

// ProgressBar renders the completion of one throughput level on a single line.
// Report may be called from any goroutine.
type ProgressBar struct {
	rate      uint64
	expected  uint64
	completed atomic.Uint64

	bar      progress.Model
	writer   io.Writer
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewProgressBar starts redrawing the bar for a level every interval.
func NewProgressBar(w io.Writer, rate, expected uint64, interval time.Duration) *ProgressBar {
	if w == nil {
		w = io.Discard
	}
	p := &ProgressBar{
		rate:     rate,
		expected: expected,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		writer:   w,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go p.run()
	return p
}

// Report adds n completed calls.
func (p *ProgressBar) Report(n uint64) {
	p.completed.Add(n)
}

// Completed returns the number of calls reported so far.
func (p *ProgressBar) Completed() uint64 {
	return p.completed.Load()
}

// Finish stops the bar and prints the level summary.
func (p *ProgressBar) Finish(stats metrics.LevelStats) {
	p.stop()
	fmt.Fprintf(p.writer, "\r%s %s\n", p.bar.ViewAs(1), FormatLevel(stats))
}

// Abort stops the bar and prints why the level ended.
func (p *ProgressBar) Abort(err error) {
	p.stop()
	fmt.Fprintf(p.writer, "\r%s %d req/s: %v\n", p.bar.ViewAs(p.fraction()), p.rate, err)
}

func (p *ProgressBar) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	})
}

func (p *ProgressBar) fraction() float64 {
	if p.expected == 0 {
		return 0
	}
	f := float64(p.completed.Load()) / float64(p.expected)
	if f > 1 {
		f = 1
	}
	return f
}

func (p *ProgressBar) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprintf(p.writer, "\r%s %d/%d %d req/s",
				p.bar.ViewAs(p.fraction()), p.completed.Load(), p.expected, p.rate)
		case <-p.done:
			return
		}
	}
}

// FormatLevel renders the one-line summary of a completed level.
func FormatLevel(stats metrics.LevelStats) string {
	return fmt.Sprintf("%d req/s: %.0f%% of planned requests sent, avg: %s, min: %s, max: %s",
		stats.TargetRate,
		stats.PercentOfTarget,
		stats.MeanLatency,
		stats.MinLatency,
		stats.MaxLatency,
	)
}
