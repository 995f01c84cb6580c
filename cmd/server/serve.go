package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/handler"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/service"
)

var noScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the gRPC ops server and the automation scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the periodic automation sweep")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	cfg, log := a.cfg, a.log
	defer a.close(cfg.Server.ShutdownTimeout)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting invoice automation service")

	router := handler.NewRouter(handler.NewHTTPHandler(a.services, log), a.pinger(), log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer := handler.NewGRPCServer(a.pinger(), log)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	go grpcServer.WatchHealth(ctx, cfg.Database.HealthCheck)

	if !noScheduler {
		scheduler := service.NewScheduler(a.services.Automation, cfg.Automation.SweepInterval, cfg.Automation.BatchSize, log)
		go scheduler.Run(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server error")
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.Shutdown()

	log.Info().Msg("Server stopped")
	return runErr
}
