package output

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/extproc-bench/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressBarRendersCounts(t *testing.T) {
	var out syncBuffer
	p := NewProgressBar(&out, 100, 1000, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Report(25)
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "100/1000 100 req/s") {
		if time.Now().After(deadline) {
			t.Fatalf("progress line not rendered, got %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Finish(metrics.Summarize(100, 10*time.Second, 1000, []time.Duration{time.Millisecond}))
	if p.Completed() != 100 {
		t.Errorf("Completed() = %d, want 100", p.Completed())
	}
	if !strings.Contains(out.String(), "100 req/s: 100% of planned requests sent") {
		t.Errorf("summary line missing, got %q", out.String())
	}
}

func TestProgressBarAbort(t *testing.T) {
	var out syncBuffer
	p := NewProgressBar(&out, 50, 500, time.Hour)
	p.Abort(errors.New("saturated"))
	// A second stop must not block or panic.
	p.Abort(errors.New("again"))

	if !strings.Contains(out.String(), "50 req/s: saturated") {
		t.Errorf("abort line missing, got %q", out.String())
	}
}

func TestFormatLevel(t *testing.T) {
	stats := metrics.Summarize(10, time.Second, 10, []time.Duration{
		time.Millisecond, 3 * time.Millisecond,
	})
	got := FormatLevel(stats)
	want := "10 req/s: 100% of planned requests sent, avg: 2ms, min: 1ms, max: 3ms"
	if got != want {
		t.Errorf("FormatLevel() = %q, want %q", got, want)
	}
}
