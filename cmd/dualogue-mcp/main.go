package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apresai/dualogue/internal/mcpserver"
	"github.com/apresai/dualogue/internal/observability"
)

var version = "1.0.0"

func main() {
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	level, err := observability.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := observability.InitLogger(observability.Options{Level: level, Format: "json"})
	if err != nil {
		logger.Warn("Invalid LOG_LEVEL, using info", "error", err)
	}

	logger.Info("Dualogue MCP Server starting...", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "dualogue-mcp", version)
	if err != nil {
		logger.Warn("Failed to init tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("Tracer shutdown error", "error", err)
			}
		}()
	}

	cfg := mcpserver.DefaultConfig()

	// Runs outlive the request that started them, so they hang off a
	// background context and are stopped through Shutdown.
	srv, err := mcpserver.New(ctx, context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received, cancelling active runs...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 8*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
		logger.Info("Shutdown complete")
		os.Exit(0)
	}()

	if *stdio {
		err = srv.ServeStdio()
	} else {
		err = srv.Start()
	}
	if err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
