package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"llmstreambench/internal/catalog"
	"llmstreambench/internal/history"
	"llmstreambench/internal/probe"
)

// Server bundles the router with the stores and tasks behind it.
type Server struct {
	Config   Config
	Router   *gin.Engine
	Handlers *Handlers
	Tasks    *TaskManager
}

// New opens the catalog and history files, seeds the catalog from the
// environment and builds the router.
func New(ctx context.Context, cfg Config, discoverer catalog.Discoverer) (*Server, error) {
	models := catalog.NewStore(cfg.ModelsFile)
	if discoverer.Logger == nil {
		discoverer.Logger = AppLogger
	}
	if found, source := discoverer.Discover(ctx); len(found) > 0 {
		added, err := models.Seed(found)
		if err != nil {
			return nil, fmt.Errorf("seed model catalog: %w", err)
		}
		AppLogger.InfoWithFields("Seeded model catalog", map[string]interface{}{
			"source":     string(source),
			"discovered": len(found),
			"added":      added,
		})
	}

	hist, err := history.Open(cfg.HistoryFile, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	tasks := NewTaskManager(AppLogger)
	runner := &Runner{
		Tasks:   tasks,
		History: hist,
		Prober:  &probe.Prober{Timeout: cfg.RequestTimeout, Logger: AppLogger},
		Logger:  AppLogger,
	}
	h := NewHandlers(models, hist, tasks, runner)

	router := gin.New()
	SetupRoutes(router, h, cfg)

	return &Server{Config: cfg, Router: router, Handlers: h, Tasks: tasks}, nil
}

// Serve listens on the configured port until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:           ":" + s.Config.Port,
		Handler:        s.Router,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   0, // SSE streams stay open for the whole run
		MaxHeaderBytes: 1 << 20,
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go s.Tasks.RunCleanup(cleanupCtx, cleanupInterval(s.Config.TaskTTL), s.Config.TaskTTL)

	errCh := make(chan error, 1)
	go func() {
		AppLogger.Info("Server starting on port %s", s.Config.Port)
		AppLogger.Info("API endpoints available at http://localhost:%s/api", s.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	AppLogger.Info("Shutting down server...")
	s.Tasks.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		AppLogger.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	AppLogger.Info("Server exited gracefully")
	return nil
}

func cleanupInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
