package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/agentic-search/internal/adapters/mcp"
	"github.com/kirillkom/agentic-search/internal/bootstrap"
	"github.com/kirillkom/agentic-search/internal/config"
	"github.com/kirillkom/agentic-search/internal/observability/logging"
)

const serviceName = "mcp"

func main() {
	cfg := config.Load()
	// Stdout carries the MCP protocol; structured logs go to stderr.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("mcp_serving_stdio")
	if err := mcpadapter.NewServer(app.TurnUC, app.Sessions).Serve(ctx); err != nil {
		slog.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
