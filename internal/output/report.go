package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/extproc-bench/internal/clientmetrics"
	"github.com/torosent/extproc-bench/internal/metrics"
)

// Summary describes a whole sweep.
type Summary struct {
	RunID           string                 `json:"run_id"`
	Target          string                 `json:"target"`
	StartedAt       time.Time              `json:"started_at"`
	TestDuration    time.Duration          `json:"-"`
	TestDurationMs  float64                `json:"test_duration_ms"`
	Concurrency     int                    `json:"concurrency"`
	ResultDirectory string                 `json:"result_directory"`
	Levels          []metrics.LevelStats   `json:"levels"`
	Client          clientmetrics.Snapshot `json:"client"`
	Error           string                 `json:"error,omitempty"`
}

// NewRunID returns a sortable unique identifier for a sweep.
func NewRunID() string {
	return ulid.Make().String()
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n--- ext_proc Throughput Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", s.RunID)
	fmt.Fprintf(w, "Target:            %s\n", s.Target)
	fmt.Fprintf(w, "Level Duration:    %s\n", s.TestDuration)
	fmt.Fprintf(w, "Concurrency:       %d\n", s.Concurrency)
	fmt.Fprintf(w, "Levels Completed:  %d\n", len(s.Levels))
	if len(s.Levels) > 0 {
		best := s.Levels[len(s.Levels)-1]
		fmt.Fprintf(w, "Highest Level:     %d req/s (%.1f req/s achieved)\n", best.TargetRate, best.AchievedRate)
	}

	if len(s.Levels) > 0 {
		fmt.Fprintln(w, "\nLevels:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  TARGET\tSENT\t%\tMEAN\tP50\tP90\tP99\tMAX")
		for _, l := range s.Levels {
			fmt.Fprintf(tw, "  %d\t%d\t%.1f\t%s\t%s\t%s\t%s\t%s\n",
				l.TargetRate,
				l.Dispatched,
				l.PercentOfTarget,
				l.MeanLatency,
				l.P50Latency,
				l.P90Latency,
				l.P99Latency,
				l.MaxLatency,
			)
		}
		_ = tw.Flush()
	}

	fmt.Fprintln(w, "\nStreams:")
	fmt.Fprintf(w, "  Opened:          %d\n", s.Client.StreamsOpened)
	fmt.Fprintf(w, "  Messages Sent:   %d\n", s.Client.MessagesSent)
	fmt.Fprintf(w, "  Messages Recv:   %d\n", s.Client.MessagesReceived)
	fmt.Fprintf(w, "  Early Closes:    %d\n", s.Client.EarlyCloses)
	fmt.Fprintf(w, "  Errors:          %d\n", s.Client.Errors)

	if s.Error != "" {
		fmt.Fprintf(w, "\nStopped: %s\n", s.Error)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, s Summary) error {
	s.TestDurationMs = float64(s.TestDuration) / float64(time.Millisecond)
	if s.Levels == nil {
		s.Levels = []metrics.LevelStats{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func jsonDecode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
