package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/swaytab/swaytab/internal/util"
)

const shutdownGrace = 5 * time.Second

// serveTelemetry exposes handler at /metrics on addr until ctx ends.
func serveTelemetry(ctx context.Context, addr string, handler http.Handler, logger *util.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infof("telemetry listening on http://%s/metrics", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("telemetry shutdown: %v", err)
			return srv.Close()
		}
		return nil
	}
}
