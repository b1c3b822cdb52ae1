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

	"chartscribe/internal/bootstrap"
	"chartscribe/internal/config"
	"chartscribe/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chartscribe:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:      logger.Parse(cfg.Server.LogLevel),
		JSONFormat: cfg.Server.LogJSON,
	})

	svc, err := bootstrap.Build(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc.Dispatcher.Start(ctx)
	go svc.Supervisor.Run(ctx)
	go svc.Supervisor.RunHealthCheckWithRetry(ctx)

	srv := &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:     newRouter(svc, log),
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	svc.Controller.Cleanup()
	svc.Dispatcher.Close()
	svc.Companion.Close()
	svc.Events.Close()

	return nil
}
