package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/extproc-bench/internal/clientmetrics"
	"github.com/torosent/extproc-bench/internal/metrics"
)

func sampleSummary() Summary {
	return Summary{
		RunID:        NewRunID(),
		Target:       "localhost:18080",
		TestDuration: 10 * time.Second,
		Concurrency:  4,
		Levels: []metrics.LevelStats{
			metrics.Summarize(100, 10*time.Second, 1000, []time.Duration{time.Millisecond}),
			metrics.Summarize(200, 10*time.Second, 1990, []time.Duration{2 * time.Millisecond}),
		},
		Client: clientmetrics.Snapshot{StreamsOpened: 2990, MessagesSent: 5980},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	s := sampleSummary()
	s.Error = "could not reach target throughput 400 req/s"
	PrintReport(&buf, s)

	out := buf.String()
	for _, want := range []string{
		"Run ID:            " + s.RunID,
		"Levels Completed:  2",
		"Highest Level:     200 req/s",
		"TARGET",
		"Opened:          2990",
		"Stopped: could not reach target throughput 400 req/s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleSummary()); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded struct {
		RunID          string                   `json:"run_id"`
		TestDurationMs float64                  `json:"test_duration_ms"`
		Levels         []map[string]interface{} `json:"levels"`
		Client         map[string]interface{}   `json:"client"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := ulid.Parse(decoded.RunID); err != nil {
		t.Errorf("run_id %q is not a ULID: %v", decoded.RunID, err)
	}
	if decoded.TestDurationMs != 10000 {
		t.Errorf("test_duration_ms = %v, want 10000", decoded.TestDurationMs)
	}
	if len(decoded.Levels) != 2 || decoded.Levels[1]["target_rate"] != float64(200) {
		t.Errorf("levels = %v", decoded.Levels)
	}
	if decoded.Client["streams_opened"] != float64(2990) {
		t.Errorf("client = %v", decoded.Client)
	}
}

func TestPrintJSONReportEmptyLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, Summary{RunID: "x"}); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"levels": []`) {
		t.Errorf("expected empty levels array, got %s", buf.String())
	}
}

func TestNewRunIDSortable(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()
	if a >= b {
		t.Errorf("run IDs not increasing: %s >= %s", a, b)
	}
}

func TestLockDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")

	unlock, err := LockDirectory(dir)
	if err != nil {
		t.Fatalf("LockDirectory() error = %v", err)
	}

	if _, err := LockDirectory(dir); !errors.Is(err, ErrDirectoryLocked) {
		t.Fatalf("second LockDirectory() error = %v, want ErrDirectoryLocked", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	unlock2, err := LockDirectory(dir)
	if err != nil {
		t.Fatalf("LockDirectory() after unlock error = %v", err)
	}
	_ = unlock2()
}
