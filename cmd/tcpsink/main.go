package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tkjaer/tcpdrain/internal/config"
	"github.com/tkjaer/tcpdrain/internal/sink"
)

func main() {
	args, err := config.ParseSinkArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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

func run(args config.SinkArgs) error {
	// Stop on Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := args.SinkConfig()
	s := sink.New(cfg)

	slog.Info("Starting sink",
		"address", cfg.Addr(),
		"buffer_size", cfg.BufferSize,
		"once", cfg.Once,
		"blocking", cfg.ForceBlocking,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A finished single-connection run also stops the status server
		defer cancel()
		return s.Run(gctx)
	})
	if args.MetricsAddress != "" {
		g.Go(func() error {
			return s.ServeStatus(gctx, args.MetricsAddress)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Sink failed", "error", err)
		return err
	}

	slog.Info("Sink stopped")
	return nil
}
