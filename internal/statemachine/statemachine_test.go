package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

func baseConfig() Config {
	return Config{
		MinFaceRatio:        0.1,
		MaxFaceRatio:        0.8,
		MinFrontality:       0.7,
		MinQuality:          0.6,
		MinRealScore:        0.5,
		SuspectedFraudCount: 3,
		CollectTarget:       3,
		DetectFrameDelayMs:  100,
		ErrorRetryDelayMs:   500,
	}
}

func passingInputs() GateInputs {
	return GateInputs{
		FaceCount:        1,
		FaceRatio:        0.4,
		Frontality:       models.Result{Score: models.NewScore(0.9, 0.7)},
		Quality:          models.Result{Score: models.NewScore(0.9, 0.6)},
		RealScore:        0.9,
		ScreenReady:      true,
		PhotoReady:       true,
		NowMs:            1000,
	}
}

func newState() *models.DetectionState {
	return models.NewDetectionState(0)
}

func TestStepNoFaceStaysInDetect(t *testing.T) {
	eng := New(baseConfig(), newState())
	in := passingInputs()
	in.FaceCount = 0

	res := eng.Step("s1", in)

	require.False(t, res.Stop)
	require.Len(t, res.Events, 1)
	payload, ok := res.Events[0].Payload.(models.InfoPayload)
	require.True(t, ok)
	require.Equal(t, models.CodeNoFace, payload.Code)
	require.False(t, payload.Passed)
}

func TestStepMultiFaceResetsCollectProgress(t *testing.T) {
	state := newState()
	state.Period = models.PeriodCollect
	state.CollectCount = 2
	eng := New(baseConfig(), state)

	in := passingInputs()
	in.FaceCount = 2

	res := eng.Step("s1", in)

	require.False(t, res.Stop)
	require.Equal(t, models.PeriodDetect, state.Period)
	require.Equal(t, 0, state.CollectCount)
	payload := res.Events[0].Payload.(models.InfoPayload)
	require.Equal(t, models.CodeMultiFace, payload.Code)
}

func TestStepScreenAttackFlaggedResetsAndFails(t *testing.T) {
	state := newState()
	state.Period = models.PeriodCollect
	state.CollectCount = 2
	eng := New(baseConfig(), state)

	in := passingInputs()
	in.ScreenFlagged = true

	res := eng.Step("s1", in)

	require.False(t, res.Stop)
	require.Equal(t, models.PeriodDetect, state.Period)
	payload := res.Events[0].Payload.(models.InfoPayload)
	require.Equal(t, models.CodeFaceNotReal, payload.Code)
}

func TestStepPhotoAttackFlaggedResetsAndFails(t *testing.T) {
	eng := New(baseConfig(), newState())
	in := passingInputs()
	in.PhotoFlagged = true

	res := eng.Step("s1", in)

	require.False(t, res.Stop)
	payload := res.Events[0].Payload.(models.InfoPayload)
	require.Equal(t, models.CodeFaceNotLive, payload.Code)
}

func TestStepFaceTooSmallOrTooLarge(t *testing.T) {
	eng := New(baseConfig(), newState())

	tooSmall := passingInputs()
	tooSmall.FaceRatio = 0.05
	res := eng.Step("s1", tooSmall)
	require.Equal(t, models.CodeFaceTooSmall, res.Events[0].Payload.(models.InfoPayload).Code)

	eng2 := New(baseConfig(), newState())
	tooLarge := passingInputs()
	tooLarge.FaceRatio = 0.9
	res2 := eng2.Step("s1", tooLarge)
	require.Equal(t, models.CodeFaceTooLarge, res2.Events[0].Payload.(models.InfoPayload).Code)
}

func TestStepNotFrontalGatedDuringDetectAndCollect(t *testing.T) {
	eng := New(baseConfig(), newState())
	in := passingInputs()
	in.Frontality = models.Result{Score: models.NewScore(0.2, 0.7)}

	res := eng.Step("s1", in)

	require.Equal(t, models.CodeFaceNotFrontal, res.Events[0].Payload.(models.InfoPayload).Code)
}

func TestStepLowQualityFails(t *testing.T) {
	eng := New(baseConfig(), newState())
	in := passingInputs()
	in.Quality = models.Result{Score: models.NewScore(0.1, 0.6)}

	res := eng.Step("s1", in)

	require.Equal(t, models.CodeLowQuality, res.Events[0].Payload.(models.InfoPayload).Code)
}

func TestCollectAdvancesToVerifyWhenActionsConfigured(t *testing.T) {
	cfg := baseConfig()
	cfg.ActionList = []models.ActionKind{models.ActionBlink}
	cfg.ActionCount = 1
	cfg.VerifyTimeoutMs = 5000
	state := newState()
	eng := New(cfg, state)

	for i := 0; i < cfg.CollectTarget; i++ {
		res := eng.Step("s1", passingInputs())
		require.False(t, res.Stop)
	}

	require.Equal(t, models.PeriodVerify, state.Period)
	require.NotNil(t, state.CurrentAction)
	require.Equal(t, models.ActionBlink, *state.CurrentAction)
}

func TestCollectStopsSuccessfullyWithoutActions(t *testing.T) {
	cfg := baseConfig()
	state := newState()
	eng := New(cfg, state)

	var last StepResult
	for i := 0; i < cfg.CollectTarget; i++ {
		last = eng.Step("s1", passingInputs())
	}

	require.True(t, last.Stop)
	require.True(t, last.Success)
}

func TestCollectTracksBestQualityFrame(t *testing.T) {
	cfg := baseConfig()
	state := newState()
	eng := New(cfg, state)

	captured := false
	in := passingInputs()
	in.Quality = models.Result{Score: models.NewScore(0.95, 0.6)}
	in.CaptureFrameJPEG = func() ([]byte, error) {
		captured = true
		return []byte("jpeg-bytes"), nil
	}

	eng.Step("s1", in)

	require.True(t, captured)
	require.Equal(t, 0.95, state.BestQualityScore)
	require.Equal(t, []byte("jpeg-bytes"), state.BestFrameImage)
}

func TestCollectCapturesBestEmbeddingAlongsideBestFrame(t *testing.T) {
	cfg := baseConfig()
	state := newState()
	eng := New(cfg, state)

	in := passingInputs()
	in.Face.Embedding = []float32{0.1, 0.2, 0.3}

	eng.Step("s1", in)

	require.Equal(t, []float32{0.1, 0.2, 0.3}, state.BestEmbedding)
}

func TestVerifyActionCompletesOnMatchingGesture(t *testing.T) {
	cfg := baseConfig()
	cfg.ActionList = []models.ActionKind{models.ActionBlink}
	cfg.ActionCount = 1
	cfg.VerifyTimeoutMs = 5000
	state := newState()
	eng := New(cfg, state)

	for i := 0; i < cfg.CollectTarget; i++ {
		eng.Step("s1", passingInputs())
	}
	require.Equal(t, models.PeriodVerify, state.Period)

	in := passingInputs()
	in.Face = models.FaceObservation{Gestures: []string{"blink detected"}}
	res := eng.Step("s1", in)

	require.True(t, res.Stop)
	require.True(t, res.Success)
	lastEvent := res.Events[len(res.Events)-1]
	require.Equal(t, models.EventAction, lastEvent.Type)
	require.Equal(t, models.ActionCompleted, lastEvent.Payload.(models.ActionPayload).Status)
}

func TestVerifyActionTimesOutAndResets(t *testing.T) {
	cfg := baseConfig()
	cfg.ActionList = []models.ActionKind{models.ActionBlink}
	cfg.ActionCount = 1
	cfg.VerifyTimeoutMs = 10
	state := newState()
	eng := New(cfg, state)

	for i := 0; i < cfg.CollectTarget; i++ {
		eng.Step("s1", passingInputs())
	}
	require.Equal(t, models.PeriodVerify, state.Period)

	in := passingInputs()
	in.NowMs = state.ActionDeadlineMs + 1
	res := eng.Step("s1", in)

	require.False(t, res.Stop)
	require.Equal(t, models.PeriodDetect, state.Period)
	require.Equal(t, models.ActionTimeout, res.Events[0].Payload.(models.ActionPayload).Status)
}

func TestNodRequiresUpThenDownOrViceVersa(t *testing.T) {
	cfg := baseConfig()
	cfg.ActionList = []models.ActionKind{models.ActionNod}
	cfg.ActionCount = 1
	cfg.VerifyTimeoutMs = 5000
	state := newState()
	eng := New(cfg, state)

	for i := 0; i < cfg.CollectTarget; i++ {
		eng.Step("s1", passingInputs())
	}

	up := passingInputs()
	up.Face = models.FaceObservation{Gestures: []string{"head up"}}
	res := eng.Step("s1", up)
	require.False(t, res.Stop)
	require.Equal(t, models.PeriodVerify, state.Period, "one half of the nod shouldn't complete it")

	down := passingInputs()
	down.Face = models.FaceObservation{Gestures: []string{"head down"}}
	res = eng.Step("s1", down)
	require.True(t, res.Stop)
	require.True(t, res.Success)
}

func TestMouthOpenRequiresPercentAboveThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.ActionList = []models.ActionKind{models.ActionMouthOpen}
	cfg.ActionCount = 1
	cfg.VerifyTimeoutMs = 5000
	cfg.MinMouthOpenPct = 0.30
	state := newState()
	eng := New(cfg, state)

	for i := 0; i < cfg.CollectTarget; i++ {
		eng.Step("s1", passingInputs())
	}

	tooLittle := passingInputs()
	tooLittle.Face = models.FaceObservation{Gestures: []string{"mouth 10% open"}}
	res := eng.Step("s1", tooLittle)
	require.False(t, res.Stop)

	enough := passingInputs()
	enough.Face = models.FaceObservation{Gestures: []string{"mouth 50% open"}}
	res = eng.Step("s1", enough)
	require.True(t, res.Stop)
	require.True(t, res.Success)
}

func TestSuspectedFraudThresholdStopsSession(t *testing.T) {
	cfg := baseConfig()
	cfg.SuspectedFraudCount = 2
	state := newState()
	eng := New(cfg, state)

	in := passingInputs()
	in.RealScore = 0.1 // below MinRealScore every frame

	eng.Step("s1", in)
	res := eng.Step("s1", in)

	require.True(t, res.Stop)
	require.False(t, res.Success)
	require.Equal(t, models.EventError, res.Events[0].Type)
}

func TestSuspectedFraudCountSurvivesReset(t *testing.T) {
	cfg := baseConfig()
	cfg.SuspectedFraudCount = 10
	state := newState()
	eng := New(cfg, state)

	badReal := passingInputs()
	badReal.RealScore = 0.1
	eng.Step("s1", badReal)
	require.Equal(t, 1, state.SuspectedFraudCount)

	multiFace := passingInputs()
	multiFace.FaceCount = 2
	eng.Step("s1", multiFace)

	require.Equal(t, 1, state.SuspectedFraudCount, "reset must not clear the fraud counter")
}
