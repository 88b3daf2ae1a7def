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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sssxyd/face-liveness-detector/internal/config"
	"github.com/sssxyd/face-liveness-detector/internal/models"
	"github.com/sssxyd/face-liveness-detector/internal/observability"
	"github.com/sssxyd/face-liveness-detector/internal/queue"
)

// liveness-worker durably consumes the LIVENESS event stream and maintains
// process-wide aggregate metrics (session outcomes, action-challenge
// results, suspected-fraud tallies) independent of whichever
// liveness-server instance happened to handle a given session — the same
// separation the teacher draws between its API process and its vision
// worker, reapplied to an event-sink rather than a frame-processing role.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting liveness metrics worker")

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeEvents(ctx, "metrics-worker", func(ctx context.Context, msg jetstream.Msg) error {
		var evt models.Event
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			slog.Error("unmarshal event", "error", err)
			return nil // don't retry on unmarshal errors
		}
		observeEvent(evt)
		return nil
	})
	if err != nil {
		slog.Error("start event consumer", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// observeEvent folds one detector-* event into the process's Prometheus
// counters. Payload arrives as a generic map via JSON round-tripping, so
// it's re-marshalled into the concrete payload type per event.Type.
func observeEvent(evt models.Event) {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return
	}

	switch evt.Type {
	case models.EventFinish:
		var p models.FinishPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		outcome := "timeout"
		if p.Success {
			outcome = "success"
		}
		observability.SessionOutcomes.WithLabelValues(outcome).Inc()
		observability.SessionDuration.Observe(float64(p.TotalTimeMs) / 1000)

	case models.EventError:
		var p models.ErrorPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if p.Code == models.CodeSuspectedFraudsDetected || p.Code == models.CodeFaceNotReal || p.Code == models.CodeFaceNotLive {
			observability.SessionOutcomes.WithLabelValues("fraud").Inc()
		} else {
			observability.SessionOutcomes.WithLabelValues("error").Inc()
		}

	case models.EventAction:
		var p models.ActionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if p.Status == models.ActionCompleted || p.Status == models.ActionTimeout {
			observability.ActionChallengeOutcomes.WithLabelValues(string(p.Action), string(p.Status)).Inc()
		}

	case models.EventInfo:
		var p models.InfoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		if !p.Passed {
			observability.SuspectedFraudTotal.WithLabelValues(string(p.Code)).Inc()
		}
	}
}
