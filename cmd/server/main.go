package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/config"
	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/node"
	"github.com/ryandielhenn/zephyrgossip/pkg/transport"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zephyrgossip:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config and build the stderr logger
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}
	log, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	telemetry.SetBuildInfo(version, gitSHA)
	log.Info("starting",
		zap.String("version", version),
		zap.Int("stride", cfg.Stride),
		zap.Duration("tick", cfg.TickInterval()),
		zap.String("topology_mode", cfg.TopologyMode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Wire the node to stdin/stdout
	stdio := transport.NewStdio(os.Stdin, os.Stdout, log.Named("stdio"))
	n, err := node.New(stdio, node.Config{
		Stride:       cfg.Stride,
		TickInterval: cfg.TickInterval(),
		TopologyMode: cfg.Mode(),
		Logger:       log,
	})
	if err != nil {
		return err
	}

	// 3. Optional side channel for metrics and health
	if cfg.MetricsAddr != "" {
		srv := newHTTPServer(cfg.MetricsAddr, n)
		go func() {
			log.Info("http listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 4. Run until stdin closes, a signal arrives, or stdout breaks
	trCtx, trCancel := context.WithCancel(context.Background())
	trDone := make(chan error, 1)
	go func() { trDone <- stdio.Run(trCtx) }()

	nodeDone := make(chan error, 1)
	go func() { nodeDone <- n.Run(ctx) }()

	select {
	case err := <-trDone:
		// The writer only returns early on a write failure.
		stop()
		<-nodeDone
		trCancel()
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		return nil
	case err := <-nodeDone:
		trCancel()
		if terr := <-trDone; terr != nil {
			return fmt.Errorf("transport: %w", terr)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("stopped", zap.Int("values", len(n.Values())))
		return nil
	}
}

func newHTTPServer(addr string, n *node.Node) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
