package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/marketdata/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest service, scheduler and control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Root context: cancelled on SIGINT/SIGTERM so a running job stops at its
	// next checkpoint.
	rootCtx, rootCancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	a, err := newApp(rootCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Start(rootCtx); err != nil {
		return err
	}
	if err := a.auto.Start(rootCtx); err != nil {
		a.log.Error("auto-ingest trigger not started", "error", err)
	}
	if err := a.sched.Start(rootCtx); err != nil {
		a.log.Error("scheduler not started", "error", err)
	}

	srv := server.New(rootCtx, net.JoinHostPort("", a.cfg.Port), server.Deps{
		Ingest:     a.orch,
		Runs:       a.runs,
		Targets:    a.targets,
		Prices:     a.prices,
		AutoIngest: a.auto,
		Settings:   a.settings,
		Metrics:    a.metrics.Handler(),
		Observer:   a.metrics,
		Log:        a.log,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err = <-errCh:
		a.log.Error("server error", "error", err)
	}

	// Stop producers first, then the queue, then drain connections.
	a.sched.Stop()
	a.auto.Stop()
	a.orch.Stop()
	a.orch.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.log.Error("shutdown error", "error", shutdownErr)
	}
	a.log.Info("server stopped")
	return err
}
