package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/sssxyd/face-liveness-detector/internal/config"
	"github.com/sssxyd/face-liveness-detector/internal/engine"
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/ingest"
	"github.com/sssxyd/face-liveness-detector/internal/models"
	"github.com/sssxyd/face-liveness-detector/internal/observability"
)

// liveness-replay runs one detection session against a local video file,
// an RTSP/HTTP stream URL, or a YouTube URL, logging every emitted
// detector-* event to stdout. It exists for offline tuning of the gate
// thresholds in configs/config.yaml without standing up the full API
// server — the role the teacher's cmd/ingestor filled for its multi-camera
// RTSP sources, narrowed to a single offline session.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	source := flag.String("source", "", "video file path, RTSP/HTTP(S) URL, or YouTube URL")
	fps := flag.Int("fps", 10, "frames per second to extract")
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "usage: liveness-replay -source <file|url> [-fps N]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("interrupt received, stopping replay")
		cancel()
	}()

	sourceURL := *source
	if strings.Contains(sourceURL, "youtube.com") || strings.Contains(sourceURL, "youtu.be") {
		resolved, err := ingest.ResolveYouTubeURL(ctx, sourceURL)
		if err != nil {
			slog.Error("resolve youtube url", "error", err)
			os.Exit(1)
		}
		sourceURL = resolved
	}

	e := engine.New(engine.Config{
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
	})
	defer e.Close()

	if err := e.Initialize(ctx); err != nil {
		slog.Error("initialize engine", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	logEvent := func(ev models.Event) {
		slog.Info("event", "type", ev.Type, "session_id", ev.SessionID, "payload", ev.Payload)
		if ev.Type == models.EventFinish || ev.Type == models.EventError {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	}
	for _, t := range []models.EventType{
		models.EventLoaded, models.EventInfo, models.EventAction,
		models.EventFinish, models.EventError, models.EventDebug,
	} {
		id := e.On(t, logEvent)
		defer e.Off(id)
	}

	ops := imageops.New(imageops.Config{})
	frameSource := ingest.NewFFmpegFrameSource(ctx, ops, sourceURL, *fps, cfg.Acquisition.VideoWidth)
	defer frameSource.Close()

	sessionID := uuid.NewString()
	slog.Info("starting replay session", "session_id", sessionID, "source", sourceURL)

	go func() {
		if err := e.StartDetection(ctx, sessionID, frameSource); err != nil {
			slog.Warn("detection session ended", "error", err)
		}
		select {
		case done <- struct{}{}:
		default:
		}
	}()

	<-done
	e.StopDetection(false)
	slog.Info("replay finished")
}
