package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mizanai/mizan"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	envFile := flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("loading env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	} else {
		// Best-effort default: a .env in the working directory.
		_ = godotenv.Load()
	}

	cfg := mizan.DefaultConfig()
	cfg.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	svc, err := mizan.Open(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("starting service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	h := newHandler(svc)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions", h.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("PUT /sessions/{id}", h.handleRenameSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleDeleteSession)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /chat", h.handleChat)
	mux.HandleFunc("POST /chat/non-streaming", h.handleChatSync)
	mux.HandleFunc("GET /chat/history/{id}", h.handleHistory)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = corsMiddleware(os.Getenv("CORS_ORIGINS"), handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses
		IdleTimeout:  120 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
