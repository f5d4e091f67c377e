package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"llmstreambench/internal/catalog"
	"llmstreambench/internal/logging"
	"llmstreambench/server"
)

// Run starts the API server configured from the environment and blocks
// until SIGINT or SIGTERM.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx)
}

// RunContext starts the API server and shuts it down when ctx is done.
func RunContext(ctx context.Context) error {
	server.AppLogger = logging.NewLogger()

	cfg, err := server.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	for _, problem := range cfg.Validate() {
		server.AppLogger.Warn("%s", problem)
	}

	if cfg.GinMode == "" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(cfg.GinMode)
	}

	srv, err := server.New(ctx, cfg, catalog.Discoverer{Logger: server.AppLogger})
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
