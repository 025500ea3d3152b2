package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the optional configuration file. Flags take
// precedence over file settings, and the positional URI takes precedence over both.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	positional := flagSet.Args()
	if len(positional) > 1 {
		return nil, fmt.Errorf("expected a single target URI, got %d arguments", len(positional))
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}
	if len(positional) == 1 {
		cfg.Target = strings.TrimSpace(positional[0])
	}

	if cfg.Metadata == nil {
		cfg.Metadata = map[string]string{}
	}
	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target", "uri"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.Target = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "test_duration", "test-duration", "testduration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("testDuration: %w", err)
		}
		cfg.TestDuration = dur
	}

	uintSettings := []struct {
		name string
		keys []string
		dst  *uint64
	}{
		{"startThroughput", []string{"start_throughput", "start-throughput", "startthroughput"}, &cfg.StartThroughput},
		{"endThroughput", []string{"end_throughput", "end-throughput", "endthroughput"}, &cfg.EndThroughput},
		{"throughputMultiplier", []string{"throughput_multiplier", "throughput-multiplier", "throughputmultiplier"}, &cfg.ThroughputMultiplier},
		{"throughputStep", []string{"throughput_step", "throughput-step", "throughputstep"}, &cfg.ThroughputStep},
	}
	for _, s := range uintSettings {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asUint64(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.dst = val
	}

	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}

	if raw, ok := lookupSetting(settings, "max_in_flight", "max-in-flight", "maxinflight"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxInFlight: %w", err)
		}
		cfg.MaxInFlight = val
	}

	if raw, ok := lookupSetting(settings, "result_directory", "result-directory", "resultdirectory"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("resultDirectory: %w", err)
		}
		cfg.ResultDirectory = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "compression"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("compression: %w", err)
		}
		cfg.Compression = Compression(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "request_fixture", "request-fixture", "requestfixture"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("requestFixture: %w", err)
		}
		cfg.RequestFixture = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "tls"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		cfg.TLS = val
	}

	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		cfg.Insecure = val
	}

	if raw, ok := lookupSetting(settings, "metadata"); ok {
		md, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		for k, v := range md {
			cfg.Metadata[k] = v
		}
	}

	if raw, ok := lookupSetting(settings, "call_timeout", "call-timeout", "calltimeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("callTimeout: %w", err)
		}
		cfg.CallTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "json_output", "json-output", "jsonoutput"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "log_level", "log-level", "loglevel"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}

	out := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return out, fmt.Errorf("endpoint: %w", err)
		}
		out.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return out, fmt.Errorf("protocol: %w", err)
		}
		out.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "service-name", "servicename"); ok {
		val, err := asString(raw)
		if err != nil {
			return out, fmt.Errorf("serviceName: %w", err)
		}
		out.ServiceName = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "sample-rate", "samplerate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return out, fmt.Errorf("sampleRate: %w", err)
		}
		out.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return out, fmt.Errorf("insecure: %w", err)
		}
		out.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return out, fmt.Errorf("propagate: %w", err)
		}
		out.Propagate = &val
	}
	return out, nil
}
