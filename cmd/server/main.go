/*
Package main is the entry point for the estatechat messaging gateway.

It loads configuration, initializes logging, opens the message database,
builds the gateway and its HTTP routes, and on SIGINT/SIGTERM stops accepting
requests before closing every live connection.
*/
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"estatechat/internal/app/chat"
	"estatechat/internal/app/db"
	"estatechat/internal/app/presence"
	"estatechat/internal/app/storage"
	"estatechat/internal/configs"
	"estatechat/internal/handler"
	"estatechat/internal/pkg/auth/jwt"
	"estatechat/internal/pkg/logx"
	"estatechat/internal/pkg/metrics"
)

func main() {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load(".env")

	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("database_driver", cfg.DatabaseDriver).
		Bool("s3_avatars", cfg.Storage().Enabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to open database", "driver", cfg.DatabaseDriver)
	}
	defer store.Close()

	avatars, err := storage.NewAvatarResolver(cfg.Storage(), cfg.AssetBaseURL)
	if err != nil {
		logx.Fatal(err, "Failed to initialize avatar storage")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gateway := chat.NewGateway(chat.Config{
		Verifier:  jwt.NewVerifier(cfg.JWTSecret, store),
		Directory: store,
		Store:     store,
		Registry:  presence.NewMemory(),
		Avatars:   avatars,
		Metrics:   metrics.New(registry),
	})

	router := handler.Router(ctx, &handler.AppDeps{
		Gateway:   gateway,
		Config:    cfg,
		Messages:  store,
		Directory: store,
		Avatars:   avatars,
		Ping:      store.Ping,
		Gatherer:  registry,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info("estatechat gateway starting", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// hijacked websocket connections are not tracked by the HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "HTTP server forced to shutdown")
	}

	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Gateway did not drain all connections in time")
	}

	logx.Info("Server gracefully stopped.")
}
