package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/torosent/extproc-bench/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"localhost:18080"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target != "localhost:18080" {
		t.Errorf("Target = %q, want localhost:18080", cfg.Target)
	}
	if cfg.TestDuration != 10*time.Second {
		t.Errorf("TestDuration = %s, want 10s", cfg.TestDuration)
	}
	if cfg.StartThroughput != 1 || cfg.EndThroughput != 16378 || cfg.ThroughputMultiplier != 1 || cfg.ThroughputStep != 0 {
		t.Errorf("throughput defaults = %d/%d/%d/%d", cfg.StartThroughput, cfg.EndThroughput, cfg.ThroughputMultiplier, cfg.ThroughputStep)
	}
	if cfg.Concurrency != runtime.NumCPU() {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, runtime.NumCPU())
	}
	if cfg.Compression != config.CompressionZstd {
		t.Errorf("Compression = %q, want zstd", cfg.Compression)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Metadata == nil {
		t.Error("Metadata should be initialized")
	}
}

func TestLoadNoArgsRequestsHelp(t *testing.T) {
	_, err := config.NewLoader().Load(nil)
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(nil) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadHelpFlag(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	args := []string{
		"http://localhost:18080",
		"--test-duration", "3s",
		"--start-throughput", "100",
		"--end-throughput", "800",
		"--throughput-multiplier", "2",
		"--throughput-step", "10",
		"--concurrency", "3",
		"--max-in-flight", "64",
		"--compression", "none",
		"--result-directory", "/tmp/results",
		"--metadata", "X-Tenant=blue",
		"--call-timeout", "500ms",
		"--tls",
		"--json-output",
		"--log-level", "DEBUG",
	}
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target != "http://localhost:18080" {
		t.Errorf("Target = %q", cfg.Target)
	}
	if cfg.TestDuration != 3*time.Second {
		t.Errorf("TestDuration = %s, want 3s", cfg.TestDuration)
	}
	if cfg.StartThroughput != 100 || cfg.EndThroughput != 800 || cfg.ThroughputMultiplier != 2 || cfg.ThroughputStep != 10 {
		t.Errorf("throughput = %d/%d/%d/%d", cfg.StartThroughput, cfg.EndThroughput, cfg.ThroughputMultiplier, cfg.ThroughputStep)
	}
	if cfg.Concurrency != 3 || cfg.MaxInFlight != 64 {
		t.Errorf("Concurrency/MaxInFlight = %d/%d", cfg.Concurrency, cfg.MaxInFlight)
	}
	if cfg.Compression != config.CompressionNone {
		t.Errorf("Compression = %q, want none", cfg.Compression)
	}
	if cfg.ResultDirectory != "/tmp/results" {
		t.Errorf("ResultDirectory = %q", cfg.ResultDirectory)
	}
	if cfg.Metadata["x-tenant"] != "blue" {
		t.Errorf("Metadata = %v", cfg.Metadata)
	}
	if cfg.CallTimeout != 500*time.Millisecond {
		t.Errorf("CallTimeout = %s", cfg.CallTimeout)
	}
	if !cfg.TLS || !cfg.JSONOutput {
		t.Errorf("TLS/JSONOutput = %v/%v, want true/true", cfg.TLS, cfg.JSONOutput)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadTooManyPositionalArgs(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"a:1", "b:2"})
	if err == nil {
		t.Fatal("expected error for two target URIs")
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	content := `
target: localhost:9000
test_duration: 5s
start_throughput: 50
end_throughput: 400
throughput_multiplier: 2
compression: none
metadata:
  x-tenant: green
tracing:
  endpoint: collector:4317
  protocol: http
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--end-throughput", "200"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.Target != "localhost:9000" {
		t.Errorf("Target = %q", cfg.Target)
	}
	if cfg.TestDuration != 5*time.Second {
		t.Errorf("TestDuration = %s", cfg.TestDuration)
	}
	if cfg.StartThroughput != 50 || cfg.ThroughputMultiplier != 2 {
		t.Errorf("StartThroughput/Multiplier = %d/%d", cfg.StartThroughput, cfg.ThroughputMultiplier)
	}
	if cfg.EndThroughput != 200 {
		t.Errorf("EndThroughput = %d, want flag override 200", cfg.EndThroughput)
	}
	if cfg.Compression != config.CompressionNone {
		t.Errorf("Compression = %q", cfg.Compression)
	}
	if cfg.Metadata["x-tenant"] != "green" {
		t.Errorf("Metadata = %v", cfg.Metadata)
	}
	if cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.Protocol != "http" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestLoadPositionalOverridesConfigTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.json")
	if err := os.WriteFile(path, []byte(`{"target": "from-file:1"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "from-arg:2"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Target != "from-arg:2" {
		t.Errorf("Target = %q, want from-arg:2", cfg.Target)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Target = "localhost:18080"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"missing target", func(c *config.Config) { c.Target = " " }, "target is required"},
		{"zero duration", func(c *config.Config) { c.TestDuration = 0 }, "test duration"},
		{"zero start", func(c *config.Config) { c.StartThroughput = 0 }, "start throughput"},
		{"zero end", func(c *config.Config) { c.EndThroughput = 0 }, "end throughput"},
		{"zero multiplier", func(c *config.Config) { c.ThroughputMultiplier = 0 }, "throughput multiplier must be at least 1"},
		{"zero concurrency", func(c *config.Config) { c.Concurrency = 0 }, "concurrency"},
		{"bad compression", func(c *config.Config) { c.Compression = "gzip" }, "compression"},
		{"bad log level", func(c *config.Config) { c.LogLevel = "trace" }, "log level"},
		{"bad tracing protocol", func(c *config.Config) { c.Tracing.Protocol = "thrift" }, "tracing protocol"},
		{"bad sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Errorf("Validate() error should be a ValidationError with issues")
			}
		})
	}
}
