package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DurationsWriter stores the latency samples of each level as a JSON array of
// nanosecond integers, one file per target rate.
type DurationsWriter struct {
	dir      string
	compress bool
}

// NewDurationsWriter writes into dir, zstd compressing the files when compress is set.
// An empty dir means the working directory.
func NewDurationsWriter(dir string, compress bool) *DurationsWriter {
	if dir == "" {
		dir = "."
	}
	return &DurationsWriter{dir: dir, compress: compress}
}

// FileName returns the report file name for rate.
func (w *DurationsWriter) FileName(rate uint64) string {
	name := "durations_" + strconv.FormatUint(rate, 10) + ".json"
	if w.compress {
		name += ".zst"
	}
	return name
}

// Path returns the full report path for rate.
func (w *DurationsWriter) Path(rate uint64) string {
	return filepath.Join(w.dir, w.FileName(rate))
}

// Write replaces the report of rate. The file appears only once fully written.
func (w *DurationsWriter) Write(rate uint64, latencies []time.Duration) (err error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(w.dir, "."+w.FileName(rate)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if w.compress {
		enc, err := zstd.NewWriter(tmp)
		if err != nil {
			return err
		}
		if err := encodeDurations(enc, latencies); err != nil {
			_ = enc.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else if err := encodeDurations(tmp, latencies); err != nil {
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), w.Path(rate)); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

func encodeDurations(dst io.Writer, latencies []time.Duration) error {
	bw := bufio.NewWriterSize(dst, 64<<10)
	buf := make([]byte, 0, 24)

	if err := bw.WriteByte('['); err != nil {
		return err
	}
	for i, d := range latencies {
		buf = buf[:0]
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, d.Nanoseconds(), 10)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := bw.WriteByte(']'); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadDurations decodes a report written by DurationsWriter.
func ReadDurations(path string) ([]time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src io.Reader = f
	if filepath.Ext(path) == ".zst" {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		src = dec
	}

	var ns []int64
	if err := jsonDecode(src, &ns); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make([]time.Duration, len(ns))
	for i, n := range ns {
		out[i] = time.Duration(n)
	}
	return out, nil
}
