package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	httpserver "github.com/fyrsmithlabs/agentflow/internal/http"
	"github.com/fyrsmithlabs/agentflow/internal/mcp"
)

// runServe starts the HTTP daemon and blocks until ctx is cancelled, then
// drains requests and running tasks within the shutdown timeout.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	zl := a.logger.Underlying()

	opts := []httpserver.Option{
		httpserver.WithMetrics(httpserver.NewHTTPMetrics(a.telemetry.Meter(instrumentationName), zl)),
		httpserver.WithScrubber(a.scrubber),
	}
	if a.validator != nil {
		opts = append(opts, httpserver.WithSandbox(a.validator))
	}
	srv, err := httpserver.NewServer(a.orch, a.memory, zl, &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		APIToken:  cfg.Server.APIToken.Value(),
		Version:   version,
	}, opts...)
	if err != nil {
		_ = a.shutdown(context.Background())
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info(ctx, "shutdown requested")
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}

// runMCP serves MCP tools on stdio until the client disconnects or ctx is
// cancelled. Logs go to stderr so stdout carries only protocol frames.
func runMCP(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	zl := a.logger.Underlying()

	server, err := mcp.NewServer(&mcp.Config{
		Name:     cfg.MCP.Name,
		Version:  cfg.MCP.Version,
		Logger:   zl,
		Metrics:  mcp.NewMetrics(a.telemetry.Meter(instrumentationName), zl),
		Scrubber: a.scrubber,
	}, a.orch, a.memory)
	if err != nil {
		_ = a.shutdown(context.Background())
		return fmt.Errorf("creating mcp server: %w", err)
	}

	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
