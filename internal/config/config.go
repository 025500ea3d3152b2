package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// Compression selects how latency reports are stored on disk.
type Compression string

const (
	CompressionZstd Compression = "zstd"
	CompressionNone Compression = "none"
)

// Defaults mirrored by the CLI flags.
const (
	DefaultTestDuration         = 10 * time.Second
	DefaultStartThroughput      = 1
	DefaultEndThroughput        = 16378
	DefaultThroughputMultiplier = 1
	DefaultLogLevel             = "info"
)

type Config struct {
	Target               string            `mapstructure:"target"`
	TestDuration         time.Duration     `mapstructure:"test_duration"`
	StartThroughput      uint64            `mapstructure:"start_throughput"`
	EndThroughput        uint64            `mapstructure:"end_throughput"`
	ThroughputMultiplier uint64            `mapstructure:"throughput_multiplier"`
	ThroughputStep       uint64            `mapstructure:"throughput_step"`
	ResultDirectory      string            `mapstructure:"result_directory"`
	Concurrency          int               `mapstructure:"concurrency"`
	MaxInFlight          int               `mapstructure:"max_in_flight"`
	Compression          Compression       `mapstructure:"compression"`
	RequestFixture       string            `mapstructure:"request_fixture"`
	TLS                  bool              `mapstructure:"tls"`
	Insecure             bool              `mapstructure:"insecure"` // Skip TLS verification
	Metadata             map[string]string `mapstructure:"metadata"`
	CallTimeout          time.Duration     `mapstructure:"call_timeout"` // 0 = no per-call deadline
	JSONOutput           bool              `mapstructure:"json_output"`
	LogLevel             string            `mapstructure:"log_level"`
	ConfigFile           string            `mapstructure:"-"`
	Tracing              TracingConfig     `mapstructure:"tracing"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured, either explicitly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to true whenever tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns a configuration populated with the CLI defaults.
func Default() Config {
	return Config{
		TestDuration:         DefaultTestDuration,
		StartThroughput:      DefaultStartThroughput,
		EndThroughput:        DefaultEndThroughput,
		ThroughputMultiplier: DefaultThroughputMultiplier,
		Concurrency:          runtime.NumCPU(),
		Compression:          CompressionZstd,
		Metadata:             map[string]string{},
		LogLevel:             DefaultLogLevel,
		Tracing:              TracingConfig{SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Target) == "" {
		issues = append(issues, "target is required")
	}
	if c.TestDuration <= 0 {
		issues = append(issues, "test duration must be greater than 0")
	}
	if c.StartThroughput < 1 {
		issues = append(issues, "start throughput must be at least 1")
	}
	if c.EndThroughput < 1 {
		issues = append(issues, "end throughput must be at least 1")
	}
	if c.ThroughputMultiplier < 1 {
		issues = append(issues, "throughput multiplier must be at least 1")
	}
	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be at least 1")
	}
	if c.MaxInFlight < 0 {
		issues = append(issues, "max in flight must be non-negative")
	}
	if c.CallTimeout < 0 {
		issues = append(issues, "call timeout must be non-negative")
	}
	switch c.Compression {
	case CompressionZstd, CompressionNone:
	default:
		issues = append(issues, fmt.Sprintf("compression must be %q or %q", CompressionZstd, CompressionNone))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("unsupported log level %q", c.LogLevel))
	}
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q: use \"grpc\" or \"http\"", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}
	return issues
}
