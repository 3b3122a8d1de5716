package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidbz/tally/internal/app"
	"github.com/davidbz/tally/internal/config"
	"github.com/davidbz/tally/internal/http"
	"github.com/davidbz/tally/internal/http/middleware"
	"github.com/davidbz/tally/internal/observability"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	container, err := app.BuildContainer()
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	err = container.Invoke(func(server *http.Server, telemetry *config.TelemetryConfig, closers *app.Closers) error {
		defer closers.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracer, err := observability.InitTracer(ctx,
			telemetry.ServiceName, version, telemetry.ExporterType, telemetry.Endpoint)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err = <-errCh:
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			err = errors.Join(server.Shutdown(shutdownCtx), <-errCh)
		}

		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, shutdownTracer(flushCtx))
	})
	if err != nil {
		log.Fatalf("Failed to run application: %v", err)
	}
}
