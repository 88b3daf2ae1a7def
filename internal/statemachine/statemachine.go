// Package statemachine implements the Detection State Machine: the
// DETECT -> COLLECT -> VERIFY sequencing that gates frame collection and
// drives the action challenge, described in spec §4.6.
package statemachine

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// Config bundles every threshold the gates and challenge selection consume
// (spec §6's collection/frontality/quality/challenge configuration keys).
type Config struct {
	MinFaceRatio        float64
	MaxFaceRatio        float64
	MinFrontality       float64
	MinQuality          float64
	MinRealScore        float64
	SuspectedFraudCount int
	CollectTarget       int

	ActionList        []models.ActionKind
	ActionCount       int
	ActionRandomize   bool
	VerifyTimeoutMs   int64
	MinMouthOpenPct   float64

	DetectFrameDelayMs          int64
	CollectFrameDelayMultiplier float64
	ErrorRetryDelayMs           int64
}

var mouthOpenPattern = regexp.MustCompile(`(?i)mouth (\d+)% open`)
var nodPattern = regexp.MustCompile(`(?i)head (up|down)`)

// GateInputs is everything a single frame's evaluation needs; the engine
// layer assembles this from FaceAnalyzer/FrontalityScorer/QualityScorer/
// screenattack.Cascade/photoattack.Detector outputs before calling Step.
type GateInputs struct {
	FaceCount int
	Face      models.FaceObservation

	ScreenReady      bool
	ScreenFlagged    bool
	ScreenConfidence float64

	PhotoReady      bool
	PhotoFlagged    bool
	PhotoConfidence float64

	FaceRatio  float64
	Frontality models.Result
	Quality    models.Result
	RealScore  float64

	CaptureFrameJPEG func() ([]byte, error)
	CaptureFaceJPEG  func() ([]byte, error)

	NowMs int64
}

// StepResult carries the events to emit and whether the session should
// stop after this frame.
type StepResult struct {
	Events      []models.Event
	Stop        bool
	Success     bool
	NextDelayMs int64
}

// Engine runs the state machine against a single models.DetectionState. It
// holds no other session data — the caller (internal/engine) owns the
// FrameCollector, analyzer, and scorers.
type Engine struct {
	cfg   Config
	state *models.DetectionState
	rng   *rand.Rand

	nodStage string // "" | "up" | "down" — tracks the first half of a NOD gesture
}

func New(cfg Config, state *models.DetectionState) *Engine {
	return &Engine{cfg: cfg, state: state, rng: rand.New(rand.NewSource(1))}
}

// Step applies the per-frame gates in order and advances the state
// machine. Any gate failure skips collection and returns without
// advancing (the caller reschedules per NextDelayMs).
func (e *Engine) Step(sessionID string, in GateInputs) StepResult {
	e.checkSuspectedFraud(in)
	if e.state.SuspectedFraudCount >= e.cfg.SuspectedFraudCount {
		return StepResult{
			Events:  []models.Event{e.errorEvent(sessionID, models.InfoCode(""), "suspected fraud threshold reached")},
			Stop:    true,
			Success: false,
		}
	}

	// Gate 1: exactly one face.
	if in.FaceCount != 1 {
		code := models.CodeNoFace
		if in.FaceCount > 1 {
			code = models.CodeMultiFace
		}
		if e.state.Period != models.PeriodDetect {
			e.reset(in.NowMs)
		}
		return e.gateFailure(sessionID, code, "expected exactly one face", in)
	}

	// Gate 2: screen-attack.
	if in.ScreenReady && in.ScreenFlagged {
		e.reset(in.NowMs)
		return e.gateFailure(sessionID, models.CodeFaceNotReal, "screen capture suspected", in)
	}

	// Gate 3: photo-attack.
	if in.PhotoReady && in.PhotoFlagged {
		e.reset(in.NowMs)
		return e.gateFailure(sessionID, models.CodeFaceNotLive, "photo/replay attack suspected", in)
	}

	// Gate 4: face ratio.
	if in.FaceRatio <= e.cfg.MinFaceRatio {
		return e.gateFailure(sessionID, models.CodeFaceTooSmall, "face too small", in)
	}
	if in.FaceRatio >= e.cfg.MaxFaceRatio {
		return e.gateFailure(sessionID, models.CodeFaceTooLarge, "face too large", in)
	}

	// Gate 5: frontality, only gated during DETECT/COLLECT.
	if e.state.Period == models.PeriodDetect || e.state.Period == models.PeriodCollect {
		if in.Frontality.Score.Value < e.cfg.MinFrontality {
			return e.gateFailure(sessionID, models.CodeFaceNotFrontal, "face not frontal enough", in)
		}
	}
	e.state.LastFrontalityScore = in.Frontality.Score.Value

	// Gate 6: quality.
	if !in.Quality.Score.Pass() || in.Quality.Score.Value < e.cfg.MinQuality {
		return e.gateFailure(sessionID, models.CodeLowQuality, "quality below threshold", in)
	}

	// Gate 7: mark liveness/realness now that screen and photo gates both
	// passed (flagged==false, regardless of readiness).
	e.state.Liveness = !in.PhotoFlagged
	e.state.Realness = !in.ScreenFlagged

	return e.advance(sessionID, in)
}

func (e *Engine) checkSuspectedFraud(in GateInputs) {
	if in.FaceCount != 1 {
		return
	}
	if in.RealScore < e.cfg.MinRealScore {
		e.state.SuspectedFraudCount++
	}
}

func (e *Engine) gateFailure(sessionID string, code models.InfoCode, message string, in GateInputs) StepResult {
	return StepResult{
		Events:      []models.Event{e.infoEvent(sessionID, false, code, message, in)},
		NextDelayMs: e.cfg.DetectFrameDelayMs,
	}
}

func (e *Engine) advance(sessionID string, in GateInputs) StepResult {
	switch e.state.Period {
	case models.PeriodDetect:
		e.state.Period = models.PeriodCollect
		e.state.CollectCount = 0
		return e.collect(sessionID, in)
	case models.PeriodCollect:
		return e.collect(sessionID, in)
	case models.PeriodVerify:
		return e.verify(sessionID, in)
	default:
		return StepResult{}
	}
}

func (e *Engine) collect(sessionID string, in GateInputs) StepResult {
	e.state.CollectCount++

	events := []models.Event{e.infoEvent(sessionID, true, models.CodeOK, "collecting", in)}

	if in.Quality.Score.Value > e.state.BestQualityScore {
		e.state.BestQualityScore = in.Quality.Score.Value
		if in.CaptureFrameJPEG != nil {
			if b, err := in.CaptureFrameJPEG(); err == nil {
				e.state.BestFrameImage = b
			}
		}
		if in.CaptureFaceJPEG != nil {
			if b, err := in.CaptureFaceJPEG(); err == nil {
				e.state.BestFaceImage = b
			}
		}
		e.state.BestEmbedding = in.Face.Embedding
	}

	if e.state.Realness && e.state.Liveness && e.state.CollectCount >= e.cfg.CollectTarget {
		if len(e.cfg.ActionList) > 0 && e.cfg.ActionCount > 0 {
			e.state.Period = models.PeriodVerify
			startEvent := e.startNextAction(sessionID, in.NowMs)
			if startEvent != nil {
				events = append(events, *startEvent)
			}
			return StepResult{Events: events, NextDelayMs: e.cfg.DetectFrameDelayMs}
		}
		return StepResult{Events: events, Stop: true, Success: true}
	}

	delay := e.cfg.DetectFrameDelayMs
	if e.cfg.CollectFrameDelayMultiplier > 0 {
		delay = int64(float64(delay) * e.cfg.CollectFrameDelayMultiplier)
	}
	return StepResult{Events: events, NextDelayMs: delay}
}

func (e *Engine) verify(sessionID string, in GateInputs) StepResult {
	if e.state.CurrentAction == nil {
		if ev := e.startNextAction(sessionID, in.NowMs); ev != nil {
			return StepResult{Events: []models.Event{*ev}, NextDelayMs: e.cfg.DetectFrameDelayMs}
		}
		return StepResult{Stop: true, Success: true}
	}

	if in.NowMs > e.state.ActionDeadlineMs {
		timeoutEvent := e.actionEvent(sessionID, *e.state.CurrentAction, models.ActionTimeout)
		e.reset(in.NowMs)
		return StepResult{Events: []models.Event{timeoutEvent}, NextDelayMs: e.cfg.DetectFrameDelayMs}
	}

	if e.checkActionPredicate(*e.state.CurrentAction, in.Face.Gestures) {
		completedEvent := e.actionEvent(sessionID, *e.state.CurrentAction, models.ActionCompleted)
		e.state.CompletedActions[*e.state.CurrentAction] = true
		e.state.CurrentAction = nil
		e.nodStage = ""

		if len(e.state.CompletedActions) >= e.cfg.ActionCount {
			return StepResult{Events: []models.Event{completedEvent}, Stop: true, Success: true}
		}

		events := []models.Event{completedEvent}
		if ev := e.startNextAction(sessionID, in.NowMs); ev != nil {
			events = append(events, *ev)
		}
		return StepResult{Events: events, NextDelayMs: e.cfg.DetectFrameDelayMs}
	}

	return StepResult{NextDelayMs: e.cfg.DetectFrameDelayMs}
}

// startNextAction picks the next not-yet-completed action (sequential or
// random per config), sets its deadline, and returns an ACTION_STARTED
// event, or nil if no action remains to select.
func (e *Engine) startNextAction(sessionID string, nowMs int64) *models.Event {
	var remaining []models.ActionKind
	for _, a := range e.cfg.ActionList {
		if !e.state.CompletedActions[a] {
			remaining = append(remaining, a)
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	var next models.ActionKind
	if e.cfg.ActionRandomize {
		next = remaining[e.rng.Intn(len(remaining))]
	} else {
		next = remaining[0]
	}

	e.state.CurrentAction = &next
	e.state.ActionDeadlineMs = nowMs + e.cfg.VerifyTimeoutMs
	e.nodStage = ""

	ev := e.actionEvent(sessionID, next, models.ActionStarted)
	return &ev
}

func (e *Engine) checkActionPredicate(action models.ActionKind, gestures []string) bool {
	switch action {
	case models.ActionBlink:
		for _, g := range gestures {
			if strings.Contains(strings.ToLower(g), "blink") {
				return true
			}
		}
		return false
	case models.ActionMouthOpen:
		for _, g := range gestures {
			m := mouthOpenPattern.FindStringSubmatch(g)
			if m == nil {
				continue
			}
			var pct float64
			fmt.Sscanf(m[1], "%f", &pct)
			if pct/100 > e.cfg.MinMouthOpenPct {
				return true
			}
		}
		return false
	case models.ActionNod:
		for _, g := range gestures {
			m := nodPattern.FindStringSubmatch(g)
			if m == nil {
				continue
			}
			dir := strings.ToLower(m[1])
			if e.nodStage == "" {
				e.nodStage = dir
			} else if e.nodStage != dir {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// reset restores DETECT and clears per-attempt bookkeeping.
// SuspectedFraudCount is intentionally preserved (models.DetectionState.Reset
// already encodes that rule).
func (e *Engine) reset(nowMs int64) {
	e.state.Reset(nowMs)
	e.nodStage = ""
}

func (e *Engine) infoEvent(sessionID string, passed bool, code models.InfoCode, message string, in GateInputs) models.Event {
	return models.Event{
		SessionID: sessionID,
		Type:      models.EventInfo,
		Payload: models.InfoPayload{
			Passed:          passed,
			Code:            code,
			Message:         message,
			FaceCount:       in.FaceCount,
			FaceRatio:       in.FaceRatio,
			FaceFrontal:     in.Frontality.Score.Value,
			ImageQuality:    in.Quality.Score.Value,
			MotionScore:     1 - in.PhotoConfidence,
			ScreenConfidence: in.ScreenConfidence,
		},
	}
}

func (e *Engine) actionEvent(sessionID string, action models.ActionKind, status models.ActionStatus) models.Event {
	return models.Event{
		SessionID: sessionID,
		Type:      models.EventAction,
		Payload:   models.ActionPayload{Action: action, Status: status},
	}
}

func (e *Engine) errorEvent(sessionID string, _ models.InfoCode, message string) models.Event {
	return models.Event{
		SessionID: sessionID,
		Type:      models.EventError,
		Payload:   models.ErrorPayload{Code: "SUSPECTED_FRAUDS_DETECTED", Message: message},
	}
}
