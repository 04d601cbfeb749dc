package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tkjaer/tcpdrain/internal/config"
	"github.com/tkjaer/tcpdrain/internal/output"
	"github.com/tkjaer/tcpdrain/internal/probe"
)

func main() {
	args, err := config.ParseProbeArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	// Setup logging
	logFile, err := config.SetupLogging(args.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	err = run(args)
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// newOutputs registers the outputs selected on the command line
func newOutputs(args config.ProbeArgs, cfg probe.Config) (*output.OutputManager, error) {
	om := &output.OutputManager{}

	if args.Json {
		jo, err := output.NewJSONOutput("")
		if err != nil {
			return nil, err
		}
		om.Register(jo)
	} else {
		om.Register(output.NewTextOutput(os.Stdout))
	}

	if args.JsonFile != "" {
		jo, err := output.NewJSONOutput(args.JsonFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open JSON file: %w", err)
		}
		om.Register(jo)
	}

	if args.MetricsFile != "" {
		om.Register(output.NewPromOutput(args.MetricsFile, cfg.Destination()))
	}

	return om, nil
}

func run(args config.ProbeArgs) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := args.ProbeConfig()

	om, err := newOutputs(args, cfg)
	if err != nil {
		slog.Error("Failed to create outputs", "error", err)
		return err
	}

	p, err := probe.NewProbe(cfg, om)
	if err != nil {
		om.Close()
		slog.Error("Failed to create probe", "error", err)
		return err
	}

	slog.Debug("Starting probe",
		"destination", cfg.Destination(),
		"sizes", len(cfg.Sizes),
		"total_bytes", cfg.TotalBytes,
	)

	runs, err := p.Run(ctx)
	if cerr := om.Close(); cerr != nil {
		slog.Error("Failed to close outputs", "error", cerr)
		if err == nil {
			err = cerr
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		slog.Warn("Interrupted", "completed", len(runs), "sizes", len(cfg.Sizes))
		return err
	case err != nil:
		slog.Error("Probe failed", "error", err)
		return err
	}

	failed := 0
	for i := range runs {
		if runs[i].Failed() {
			failed++
		}
	}
	// Aborted sizes are part of the report, they do not fail the run
	if failed > 0 {
		slog.Warn("Probe completed with failed experiments", "failed", failed, "sizes", len(runs))
		return nil
	}

	slog.Debug("Probe completed", "sizes", len(runs))
	return nil
}
