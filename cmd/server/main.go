package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/examparse"
	"github.com/brunobiangulo/examparse/jobs"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := examparse.DefaultConfig()
	if *configPath != "" {
		loaded, err := examparse.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	applyEnv(&cfg)

	apiKey := os.Getenv("EXAMPARSE_API_KEY")
	corsOrigins := os.Getenv("EXAMPARSE_CORS_ORIGINS")

	engine, err := examparse.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	runner := jobs.New(engine, jobs.WithCompletionHook(recordJob))
	if n, err := runner.Recover(context.Background()); err != nil {
		slog.Error("recovering jobs", "error", err)
	} else if n > 0 {
		slog.Info("resumed interrupted jobs", "count", n)
	}

	uploadDir := filepath.Join(os.TempDir(), "examparse-uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		slog.Error("creating upload dir", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:        *addr,
		Handler:     newServer(newHandler(engine, runner, uploadDir), apiKey, corsOrigins),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	// Running jobs record their checkpoints and resume on the next start.
	runner.Close()

	slog.Info("server stopped")
}

// newServer builds the routed handler with its middleware chain.
func newServer(h *handler, apiKey, corsOrigins string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /parse", h.handleParse)
	mux.HandleFunc("POST /parse/blocks", h.handleParseBlocks)
	mux.HandleFunc("GET /jobs", h.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/pause", h.handlePauseJob)
	mux.HandleFunc("POST /jobs/{id}/resume", h.handleResumeJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.handleCancelJob)
	mux.HandleFunc("GET /exams", h.handleListExams)
	mux.HandleFunc("GET /exams/{id}", h.handleGetExam)
	mux.HandleFunc("DELETE /exams/{id}", h.handleDeleteExam)
	mux.HandleFunc("GET /exams/{id}/export", h.handleExportExam)
	mux.HandleFunc("GET /exams/{id}/questions/{n}/similar", h.handleSimilar)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// applyEnv overrides config fields from environment variables.
func applyEnv(cfg *examparse.Config) {
	if v := os.Getenv("EXAMPARSE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("EXAMPARSE_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("EXAMPARSE_IMAGE_DIR"); v != "" {
		cfg.ImageDir = v
	}
}
