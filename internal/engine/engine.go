// Package engine wires the FrameCollector, FaceAnalyzer, Frontality/Quality
// scorers, Screen-Attack cascade, Photo-Attack detector, and Detection
// State Machine into the single cooperative per-session loop described in
// spec §5: acquire frame -> analyze -> score -> step the state machine ->
// emit events -> reschedule, grounded on the teacher's
// internal/vision.Pipeline wiring style (ONNX load sequencing, per-stage
// observability.InferenceDuration, slog progress logging).
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sssxyd/face-liveness-detector/internal/collector"
	"github.com/sssxyd/face-liveness-detector/internal/config"
	"github.com/sssxyd/face-liveness-detector/internal/faceanalyzer"
	"github.com/sssxyd/face-liveness-detector/internal/frontality"
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
	"github.com/sssxyd/face-liveness-detector/internal/observability"
	"github.com/sssxyd/face-liveness-detector/internal/photoattack"
	"github.com/sssxyd/face-liveness-detector/internal/quality"
	"github.com/sssxyd/face-liveness-detector/internal/screenattack"
	"github.com/sssxyd/face-liveness-detector/internal/statemachine"
)

// Status is the engine's coarse lifecycle state (spec §6/§7).
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusRunning      Status = "RUNNING"
	StatusStopped      Status = "STOPPED"
)

// Options bundles every detection-tuning configuration group spec §6 lists
// as recognized options, independent of the ambient server/storage config.
type Options struct {
	Acquisition  config.AcquisitionConfig
	Collection   config.CollectionConfig
	Frontality   config.FrontalityConfig
	Quality      config.QualityConfig
	Challenge    config.ChallengeConfig
	PhotoAttack  config.PhotoAttackConfig
	ScreenAttack config.ScreenAttackConfig
}

// Config configures engine construction: model paths/thresholds plus the
// initial Options.
type Config struct {
	Analyzer config.AnalyzerConfig
	ImageOps imageops.Config
	Options  Options
}

// FrameSource yields successive color frames with monotonic millisecond
// timestamps. NextFrame returns io.EOF when the source is exhausted.
type FrameSource interface {
	NextFrame(ctx context.Context) (frame *models.Image, timestampMs int64, err error)
	Close()
}

// Engine is the top-level orchestrator. One Engine runs one detection
// session at a time; internal/api wires a pool of these per active
// WebSocket/ingest session.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	status Status

	ops      imageops.Ops
	analyzer faceanalyzer.Analyzer

	frameBuffer *collector.Collector
	tracker     *faceanalyzer.Tracker
	frontScore  *frontality.Scorer
	qualScore   *quality.Scorer
	screenCsc   *screenattack.Cascade
	photoDet    *photoattack.Detector
	stateEngine *statemachine.Engine
	state       *models.DetectionState

	emitter *emitter

	sessionID string
	finished  bool
	cancel    context.CancelFunc
}

// New constructs an Engine in IDLE. Initialize must be called before
// StartDetection.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, status: StatusIdle, emitter: newEmitter()}
}

// On, Off, and Once proxy to the engine's listener registry.
func (e *Engine) On(eventType models.EventType, listener Listener) subscriptionID {
	return e.emitter.On(eventType, listener)
}
func (e *Engine) Once(eventType models.EventType, listener Listener) subscriptionID {
	return e.emitter.Once(eventType, listener)
}
func (e *Engine) Off(id subscriptionID) { e.emitter.Off(id) }

// GetStatus returns the engine's current lifecycle state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// BestEmbedding returns the ArcFace embedding captured alongside the
// best-quality frame of the most recently run session, or nil if
// EnableEmbedding was off or no frame has qualified yet. Used only for the
// optional embedding-consistency cross-check (SPEC_FULL.md §12) — never to
// drive a pass/fail decision.
func (e *Engine) BestEmbedding() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	return e.state.BestEmbedding
}

// GetOptions returns a copy of the currently active detection options.
func (e *Engine) GetOptions() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Options
}

// UpdateOptions merges patch over the current options one configuration
// section at a time: a section supplied as its Go zero value in patch
// (e.g. an empty ChallengeConfig{}) leaves the corresponding live section
// unchanged, but a non-zero section replaces its live counterpart whole.
// This is the documented resolution of spec §6's "updateOptions(partial)"
// for a statically-typed, pointer-free Options record (DESIGN.md
// open-question decision) — granularity is per section, not per leaf
// field. Callers should only invoke this between sessions (status READY or
// STOPPED) — like the rest of this package's state, it assumes the
// single-threaded cooperative model of spec §5 and is not safe to call
// concurrently with an in-flight StartDetection loop.
func (e *Engine) UpdateOptions(patch Options) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zeroAcq config.AcquisitionConfig
	if patch.Acquisition != zeroAcq {
		e.cfg.Options.Acquisition = patch.Acquisition
	}
	var zeroColl config.CollectionConfig
	if patch.Collection != zeroColl {
		e.cfg.Options.Collection = patch.Collection
	}
	var zeroFront config.FrontalityConfig
	if patch.Frontality != zeroFront {
		e.cfg.Options.Frontality = patch.Frontality
	}
	var zeroQual config.QualityConfig
	if patch.Quality != zeroQual {
		e.cfg.Options.Quality = patch.Quality
	}
	c := patch.Challenge
	if len(c.ActionList) > 0 || c.ActionCount != 0 || c.ActionRandomize || c.VerifyTimeoutMs != 0 || c.MinMouthOpenPercent != 0 {
		e.cfg.Options.Challenge = patch.Challenge
	}
	var zeroPhoto config.PhotoAttackConfig
	if patch.PhotoAttack != zeroPhoto {
		e.cfg.Options.PhotoAttack = patch.PhotoAttack
	}
	var zeroScreen config.ScreenAttackConfig
	if patch.ScreenAttack != zeroScreen {
		e.cfg.Options.ScreenAttack = patch.ScreenAttack
	}

	if e.stateEngine != nil {
		e.rebuildStateMachineConfig()
	}
}

// Initialize loads ImageOps and the FaceAnalyzer (ONNX sessions), builds
// every scorer/detector, and emits LOADED. Per spec §5, the caller should
// bound ctx with the configured init timeout.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	e.status = StatusInitializing
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.initialize()
	}()

	select {
	case <-ctx.Done():
		err := initError(models.CodeDetectorNotInitialized, "initialization timed out", ctx.Err())
		e.emitLoaded(false, err.Error())
		return err
	case err := <-done:
		if err != nil {
			var eerr *Error
			if !errors.As(err, &eerr) {
				err = initError(models.CodeDetectorNotInitialized, "initialization failed", err)
			}
			e.emitLoaded(false, err.Error())
			e.mu.Lock()
			e.status = StatusIdle
			e.mu.Unlock()
			return err
		}
		e.mu.Lock()
		e.status = StatusReady
		e.mu.Unlock()
		e.emitLoaded(true, "")
		return nil
	}
}

func (e *Engine) initialize() error {
	slog.Info("initializing liveness engine", "models_dir", e.cfg.Analyzer.ModelsDir)

	ops := imageops.New(e.cfg.ImageOps)

	analyzer, err := faceanalyzer.New(faceanalyzer.Config{
		ModelsDir:          e.cfg.Analyzer.ModelsDir,
		DetectionThreshold: float32(e.cfg.Analyzer.DetectionThreshold),
		MinFaceSize:        float32(e.cfg.Analyzer.MinFaceSizePx),
		IntraOpThreads:     e.cfg.Analyzer.IntraOpThreads,
		InterOpThreads:     e.cfg.Analyzer.InterOpThreads,
		EnableEmbedding:    e.cfg.Analyzer.EnableEmbedding,
	}, ops)
	if err != nil {
		return initError(models.CodeDetectorNotInitialized, "load face analyzer", err)
	}

	e.mu.Lock()
	e.ops = ops
	e.analyzer = analyzer
	e.frameBuffer = collector.New(collector.Config{
		BufferSize: e.cfg.Options.Acquisition.BufferSize,
		DropRate:   e.cfg.Options.Acquisition.FrameDropRate,
	})
	e.tracker = faceanalyzer.NewTracker(2000)
	e.frontScore = frontality.New(ops, frontality.Thresholds{
		YawDeg:   e.cfg.Options.Frontality.YawThresholdDeg,
		PitchDeg: e.cfg.Options.Frontality.PitchThresholdDeg,
		RollDeg:  e.cfg.Options.Frontality.RollThresholdDeg,
	})
	e.qualScore = quality.New(ops)
	e.screenCsc = screenattack.NewCascade(ops, toScreenConfig(e.cfg.Options.ScreenAttack))
	e.photoDet = photoattack.New(e.cfg.Options.PhotoAttack.FrameBufferSize, e.cfg.Options.PhotoAttack.RequiredFrameCount)
	e.state = models.NewDetectionState(nowMs())
	e.stateEngine = statemachine.New(toStateMachineConfig(e.cfg.Options), e.state)
	e.mu.Unlock()

	slog.Info("liveness engine ready")
	return nil
}

func (e *Engine) rebuildStateMachineConfig() {
	e.stateEngine = statemachine.New(toStateMachineConfig(e.cfg.Options), e.state)
	e.screenCsc = screenattack.NewCascade(e.ops, toScreenConfig(e.cfg.Options.ScreenAttack))
}

func (e *Engine) emitLoaded(success bool, errMsg string) {
	e.emitter.Emit(models.Event{
		Type:    models.EventLoaded,
		Emitted: time.Now(),
		Payload: models.LoadedPayload{Success: success, Error: errMsg},
	})
}

// StartDetection runs the detection loop against source until a face is
// verified (success), a fraud signal stops the session, the caller cancels
// ctx, or StopDetection is invoked from another goroutine. sessionID tags
// every emitted event and the observability series.
func (e *Engine) StartDetection(ctx context.Context, sessionID string, source FrameSource) error {
	e.mu.Lock()
	if e.status != StatusReady && e.status != StatusStopped {
		e.mu.Unlock()
		return internalInvariantError("StartDetection called before a successful Initialize")
	}
	e.status = StatusRunning
	e.sessionID = sessionID
	e.finished = false
	e.state = models.NewDetectionState(nowMs())
	e.stateEngine = statemachine.New(toStateMachineConfig(e.cfg.Options), e.state)
	if e.tracker != nil {
		e.tracker.Reset()
	}
	if e.frameBuffer != nil {
		e.frameBuffer.Reset()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	observability.ActiveSessions.Inc()
	defer observability.ActiveSessions.Dec()

	startedAt := time.Now()
	defer func() {
		observability.SessionDuration.Observe(time.Since(startedAt).Seconds())
	}()

	for {
		select {
		case <-loopCtx.Done():
			e.StopDetection(false)
			return nil
		default:
		}

		frame, timestampMs, err := source.NextFrame(loopCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.StopDetection(false)
				return nil
			}
			aerr := acquisitionError(models.CodeStreamAcquisitionFailed, "frame acquisition failed", err)
			e.emitter.Emit(models.Event{SessionID: sessionID, Type: models.EventError, Emitted: time.Now(),
				Payload: models.ErrorPayload{Code: aerr.Code, Message: aerr.Message}})
			e.StopDetection(false)
			return aerr
		}

		delayMs, stop := e.processFrame(sessionID, frame, timestampMs)
		observability.FramesProcessed.WithLabelValues(sessionID).Inc()
		if stop {
			return nil
		}

		timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
		select {
		case <-loopCtx.Done():
			timer.Stop()
			e.StopDetection(false)
			return nil
		case <-timer.C:
		}
	}
}

// processFrame runs one full acquire->analyze->score->step cycle. frame
// ownership transfers in: processFrame always releases it (directly or via
// the FrameCollector) before returning.
func (e *Engine) processFrame(sessionID string, frame *models.Image, timestampMs int64) (nextDelayMs int64, stop bool) {
	gray, err := e.ops.Grayscale(frame)
	if err != nil {
		frame.Close()
		e.debugEvent(sessionID, "warn", "acquire", "grayscale conversion failed: "+err.Error())
		return e.cfg.Options.Acquisition.ErrorRetryDelayMs, false
	}

	accepted := e.frameBuffer.Add(gray, frame, timestampMs)
	if !accepted {
		observability.FrameDropTotal.WithLabelValues("buffer_drop_rate").Inc()
		return e.cfg.Options.Acquisition.ErrorRetryDelayMs, false
	}

	start := time.Now()
	observations, err := e.analyzer.Analyze(context.Background(), frame)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		e.debugEvent(sessionID, "warn", "detect", "face analyzer failed: "+err.Error())
		return e.cfg.Options.Acquisition.ErrorRetryDelayMs, false
	}

	tracked, hasFace := e.tracker.Update(observations, timestampMs)

	in := statemachine.GateInputs{
		FaceCount: len(observations),
		NowMs:     timestampMs,
	}
	if hasFace {
		in.Face = tracked
		in.FaceRatio = tracked.Box.Area() / float64(maxI(e.frameBuffer.Width()*e.frameBuffer.Height(), 1))

		frontResult := e.frontScore.Score(gray, tracked)
		observability.FrontalityScore.Observe(frontResult.Score.Value)
		in.Frontality = frontResult

		qualResult := e.qualScore.Score(frame, tracked.Box)
		observability.QualityScore.Observe(qualResult.Score.Value)
		in.Quality = qualResult

		screenResult := e.screenCsc.Evaluate(frame, e.frameBuffer.Frames(), e.frameBuffer.AverageFPS())
		observability.ScreenAttackConfidence.WithLabelValues(string(screenResult.Mode)).Observe(screenResult.Confidence)
		for name, sub := range screenResult.SubResults {
			if sub.Ready && sub.IsScreenCapture {
				observability.ScreenAttackFlags.WithLabelValues(name).Inc()
			}
		}
		in.ScreenReady = true
		in.ScreenFlagged = screenResult.IsScreenCapture
		in.ScreenConfidence = screenResult.Confidence

		e.photoDet.Add(tracked)
		photoResult := e.photoDet.Evaluate()
		observability.PhotoAttackScore.Observe(photoResult.Confidence)
		in.PhotoReady = photoResult.Trusted
		in.PhotoFlagged = photoResult.IsPhoto
		in.PhotoConfidence = photoResult.Confidence

		if tracked.Real != nil {
			in.RealScore = *tracked.Real
		}

		in.CaptureFrameJPEG = func() ([]byte, error) { return e.ops.EncodeJPEG(frame, 90) }
		in.CaptureFaceJPEG = func() ([]byte, error) {
			crop, err := e.ops.ROI(frame, tracked.Box)
			if err != nil {
				return nil, err
			}
			defer crop.Close()
			return e.ops.EncodeJPEG(crop, 90)
		}
	}

	result := e.stateEngine.Step(sessionID, in)
	for _, ev := range result.Events {
		ev.SessionID = sessionID
		ev.Emitted = time.Now()
		if infoPayload, ok := ev.Payload.(models.InfoPayload); ok && !infoPayload.Passed && infoPayload.Code != models.CodeOK {
			observability.SuspectedFraudTotal.WithLabelValues(string(infoPayload.Code)).Inc()
		}
		e.emitter.Emit(ev)
	}

	if result.Stop {
		e.StopDetection(result.Success)
		return 0, true
	}

	delay := result.NextDelayMs
	if delay <= 0 {
		delay = e.cfg.Options.Acquisition.FrameDelayMs
	}
	return delay, false
}

// StopDetection idempotently ends the session: cancels the loop, releases
// every buffered frame, emits exactly one FINISH, and transitions to
// STOPPED (spec §5 / universal invariants 6-7).
func (e *Engine) StopDetection(success bool) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	sessionID := e.sessionID
	state := e.state
	cancel := e.cancel
	e.status = StatusStopped
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if e.frameBuffer != nil {
		e.frameBuffer.Reset()
	}

	outcome := models.OutcomeTimeout
	if success {
		outcome = models.OutcomeSuccess
	}
	observability.SessionOutcomes.WithLabelValues(string(outcome)).Inc()

	payload := models.FinishPayload{Success: success}
	if state != nil {
		payload.SilentPassedCount = state.CollectCount
		payload.ActionPassedCount = len(state.CompletedActions)
		payload.BestQualityScore = state.BestQualityScore
		payload.TotalTimeMs = nowMs() - state.StartTimeMs
		if state.BestFrameImage != nil {
			payload.BestFrameImageB64 = base64.StdEncoding.EncodeToString(state.BestFrameImage)
		}
		if state.BestFaceImage != nil {
			payload.BestFaceImageB64 = base64.StdEncoding.EncodeToString(state.BestFaceImage)
		}
	}

	e.emitter.Emit(models.Event{
		SessionID: sessionID,
		Type:      models.EventFinish,
		Emitted:   time.Now(),
		Payload:   payload,
	})
}

// Close releases native resources (ONNX sessions). Call once per Engine,
// after the last StartDetection has returned.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.analyzer != nil {
		e.analyzer.Close()
		e.analyzer = nil
	}
}

func (e *Engine) debugEvent(sessionID, level, stage, message string) {
	e.emitter.Emit(models.Event{
		SessionID: sessionID,
		Type:      models.EventDebug,
		Emitted:   time.Now(),
		Payload: models.DebugPayload{
			Level:     level,
			Stage:     stage,
			Message:   message,
			Timestamp: time.Now(),
		},
	})
}

func nowMs() int64 { return time.Now().UnixMilli() }

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func toScreenConfig(c config.ScreenAttackConfig) screenattack.Config {
	return screenattack.Config{
		Mode:                        screenattack.Mode(c.Mode),
		MoireThreshold:              c.MoireThreshold,
		RGBEmissionThreshold:        c.RGBEmissionThreshold,
		ColorProfileThreshold:       c.ColorProfileThreshold,
		FlickerCorrelationThreshold: c.FlickerCorrelationThreshold,
		FlickerPassingRatioMin:      c.FlickerPassingRatioMin,
		FlickerMaxPeriodConfigMax:   c.FlickerMaxPeriodConfigMax,
		ResponseTimeThresholdMs:     c.ResponseTimeThresholdMs,
		ResponseTimeFraction:        c.ResponseTimeFraction,
		DLPSeparationPixels:         c.DLPSeparationPixels,
		OpticalCompositeThreshold:   c.OpticalCompositeThreshold,
		CascadeConfidenceThreshold:  c.ConfidenceThreshold,
		FrameDropRate:               0,
	}
}

func toStateMachineConfig(o Options) statemachine.Config {
	actions := make([]models.ActionKind, 0, len(o.Challenge.ActionList))
	for _, a := range o.Challenge.ActionList {
		actions = append(actions, models.ActionKind(a))
	}
	return statemachine.Config{
		MinFaceRatio:                o.Collection.MinFaceRatio,
		MaxFaceRatio:                o.Collection.MaxFaceRatio,
		MinFrontality:               o.Collection.MinFaceFrontal,
		MinQuality:                  o.Collection.MinImageQuality,
		MinRealScore:                o.Collection.MinRealScore,
		SuspectedFraudCount:         o.Collection.SuspectedFraudCount,
		CollectTarget:               o.Collection.MinCollectCount,
		ActionList:                  actions,
		ActionCount:                 o.Challenge.ActionCount,
		ActionRandomize:             o.Challenge.ActionRandomize,
		VerifyTimeoutMs:             o.Challenge.VerifyTimeoutMs,
		MinMouthOpenPct:             o.Challenge.MinMouthOpenPercent,
		DetectFrameDelayMs:          o.Acquisition.FrameDelayMs,
		CollectFrameDelayMultiplier: o.Collection.CollectDelayMultiplier,
		ErrorRetryDelayMs:           o.Acquisition.ErrorRetryDelayMs,
	}
}
