package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sssxyd/face-liveness-detector/internal/api"
	"github.com/sssxyd/face-liveness-detector/internal/api/ws"
	"github.com/sssxyd/face-liveness-detector/internal/config"
	"github.com/sssxyd/face-liveness-detector/internal/engine"
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
	"github.com/sssxyd/face-liveness-detector/internal/observability"
	"github.com/sssxyd/face-liveness-detector/internal/queue"
	"github.com/sssxyd/face-liveness-detector/internal/sessionmgr"
	"github.com/sssxyd/face-liveness-detector/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting liveness API server", "port", cfg.Server.Port, "engine_pool", cfg.Server.EnginePool)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	ops := imageops.New(imageops.Config{})

	engineCfg := engine.Config{
		Analyzer: cfg.Analyzer,
		ImageOps: imageops.Config{},
		Options: engine.Options{
			Acquisition:  cfg.Acquisition,
			Collection:   cfg.Collection,
			Frontality:   cfg.Frontality,
			Quality:      cfg.Quality,
			Challenge:    cfg.Challenge,
			PhotoAttack:  cfg.PhotoAttack,
			ScreenAttack: cfg.ScreenAttack,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := sessionmgr.NewPool(ctx, engineCfg, cfg.Server.EnginePool)
	if err != nil {
		slog.Error("initialize engine pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	registry := sessionmgr.New()

	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeEvents(ctx, "api-broadcast", func(ctx context.Context, msg jetstream.Msg) error {
		var evt models.Event
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			return nil // don't retry on unmarshal errors
		}
		hub.BroadcastEvent(evt)
		return nil
	})
	if err != nil {
		slog.Warn("start event broadcast consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		Pool:     pool,
		Registry: registry,
		Ops:      ops,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // detection WS sessions can run far longer than a fixed write timeout
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...", "active_sessions", registry.Count())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
