package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "extproc-bench <uri>",
		Short:         "Throughput load generator for Envoy ext_proc servers",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Target
	flags.String("target", "", "ext_proc server URI (alternative to the positional argument)")
	flags.Bool("tls", false, "Use TLS for the gRPC connection")
	flags.Bool("insecure", false, "Skip TLS certificate verification")
	flags.StringToString("metadata", nil, "gRPC metadata key=value pairs sent with every call")
	flags.Duration("call-timeout", 0, "Per-call deadline (0 disables)")
	flags.String("request-fixture", "", "JSON or YAML ProcessingRequest replacing one of the sample messages")

	// Rate sweep
	flags.Duration("test-duration", DefaultTestDuration, "How long each throughput level runs")
	flags.Uint64("start-throughput", DefaultStartThroughput, "First throughput level in requests per second")
	flags.Uint64("end-throughput", DefaultEndThroughput, "Highest throughput level in requests per second")
	flags.Uint64("throughput-multiplier", DefaultThroughputMultiplier, "Multiplier applied between levels")
	flags.Uint64("throughput-step", 0, "Increment added between levels after multiplying")
	flags.IntP("concurrency", "c", runtime.NumCPU(), "Number of execution loops, one gRPC connection each")
	flags.Int("max-in-flight", 0, "Per-loop cap on outstanding calls (0 means unlimited)")

	// Output
	flags.String("result-directory", "", "Directory receiving durations_<rate> files (default: current directory)")
	flags.String("compression", string(CompressionZstd), "Report compression: 'zstd' or 'none'")
	flags.Bool("json-output", false, "Emit JSON formatted summary")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported in spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of traces to sample (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context into call metadata")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s [flags]\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if fs.Changed("tls") {
		val, err := fs.GetBool("tls")
		if err != nil {
			return err
		}
		cfg.TLS = val
	}
	if fs.Changed("insecure") {
		val, err := fs.GetBool("insecure")
		if err != nil {
			return err
		}
		cfg.Insecure = val
	}
	if fs.Changed("metadata") {
		val, err := fs.GetStringToString("metadata")
		if err != nil {
			return err
		}
		if cfg.Metadata == nil {
			cfg.Metadata = map[string]string{}
		}
		for k, v := range val {
			cfg.Metadata[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	if fs.Changed("call-timeout") {
		val, err := fs.GetDuration("call-timeout")
		if err != nil {
			return err
		}
		cfg.CallTimeout = val
	}
	if fs.Changed("request-fixture") {
		val, err := fs.GetString("request-fixture")
		if err != nil {
			return err
		}
		cfg.RequestFixture = strings.TrimSpace(val)
	}
	if fs.Changed("test-duration") {
		val, err := fs.GetDuration("test-duration")
		if err != nil {
			return err
		}
		cfg.TestDuration = val
	}
	for name, dst := range map[string]*uint64{
		"start-throughput":      &cfg.StartThroughput,
		"end-throughput":        &cfg.EndThroughput,
		"throughput-multiplier": &cfg.ThroughputMultiplier,
		"throughput-step":       &cfg.ThroughputStep,
	} {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetUint64(name)
		if err != nil {
			return err
		}
		*dst = val
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
	}
	if fs.Changed("max-in-flight") {
		val, err := fs.GetInt("max-in-flight")
		if err != nil {
			return err
		}
		cfg.MaxInFlight = val
	}
	if fs.Changed("result-directory") {
		val, err := fs.GetString("result-directory")
		if err != nil {
			return err
		}
		cfg.ResultDirectory = strings.TrimSpace(val)
	}
	if fs.Changed("compression") {
		val, err := fs.GetString("compression")
		if err != nil {
			return err
		}
		cfg.Compression = Compression(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	return applyTracingFlagOverrides(&cfg.Tracing, fs)
}

func applyTracingFlagOverrides(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		t.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		t.Propagate = &val
	}
	return nil
}
