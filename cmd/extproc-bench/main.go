package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/extproc-bench/internal/clientmetrics"
	"github.com/torosent/extproc-bench/internal/config"
	"github.com/torosent/extproc-bench/internal/extproc"
	"github.com/torosent/extproc-bench/internal/grpcclient"
	"github.com/torosent/extproc-bench/internal/logging"
	"github.com/torosent/extproc-bench/internal/output"
	"github.com/torosent/extproc-bench/internal/runner"
	"github.com/torosent/extproc-bench/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	target, httpsScheme, err := grpcclient.ParseTarget(cfg.Target)
	if err != nil {
		return err
	}

	rates, err := runner.Levels(cfg.StartThroughput, cfg.EndThroughput, cfg.ThroughputMultiplier, cfg.ThroughputStep)
	if err != nil {
		return err
	}

	messages := extproc.DefaultMessages()
	if cfg.RequestFixture != "" {
		fixture, err := extproc.LoadFixture(cfg.RequestFixture)
		if err != nil {
			return err
		}
		if messages, err = messages.WithFixture(fixture); err != nil {
			return err
		}
	}

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	unlock, err := output.LockDirectory(cfg.ResultDirectory)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	counters := clientmetrics.New()
	clients, err := grpcclient.ConnectAll(ctx, grpcclient.Config{
		Target:   target,
		UseTLS:   cfg.TLS || httpsScheme,
		Insecure: cfg.Insecure,
	}, cfg.Concurrency, counters)
	if err != nil {
		return err
	}
	defer grpcclient.CloseAll(clients)
	logger.Info("connected", zap.String("target", target), zap.Int("connections", len(clients)))

	workers := make([]runner.Worker, len(clients))
	for i, c := range clients {
		workers[i] = extproc.NewWorker(c.Conn(), extproc.Options{
			Messages:  messages,
			Metadata:  cfg.Metadata,
			Timeout:   cfg.CallTimeout,
			Tracer:    provider.Tracer(),
			Propagate: provider.ShouldPropagate(),
			Metrics:   counters,
			Target:    target,
		})
	}

	scheduler, err := runner.NewScheduler(workers,
		runner.WithMaxInFlight(cfg.MaxInFlight),
		runner.WithLogger(logger.Named("scheduler")),
	)
	if err != nil {
		return err
	}

	var progressOut io.Writer = stdout
	if cfg.JSONOutput {
		progressOut = io.Discard
	}
	writer := output.NewDurationsWriter(cfg.ResultDirectory, cfg.Compression == config.CompressionZstd)
	sweep, err := runner.NewSweep(scheduler, cfg.TestDuration, writer,
		runner.WithProgress(func(rate, expected uint64) runner.LevelProgress {
			return output.NewProgressBar(progressOut, rate, expected, progressInterval)
		}),
		runner.WithSweepLogger(logger.Named("sweep")),
		runner.WithTracer(provider.Tracer()),
	)
	if err != nil {
		return err
	}

	summary := output.Summary{
		RunID:           output.NewRunID(),
		Target:          cfg.Target,
		StartedAt:       time.Now().UTC(),
		TestDuration:    cfg.TestDuration,
		Concurrency:     cfg.Concurrency,
		ResultDirectory: cfg.ResultDirectory,
	}
	logger.Info("sweep started",
		zap.String("run_id", summary.RunID),
		zap.Uint64s("rates", rates),
	)

	levels, runErr := sweep.Run(ctx, rates)
	summary.Levels = levels
	summary.Client = counters.Snapshot()
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, summary); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, summary)
	}
	return runErr
}
