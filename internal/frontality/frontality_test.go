package frontality

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sssxyd/face-liveness-detector/internal/imageops/opsfake"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

type fakeHandle struct{}

func (fakeHandle) Close() error { return nil }
func (fakeHandle) Empty() bool  { return false }

func gray() *models.Image {
	return models.NewImage(fakeHandle{}, 200, 200, 1, models.Depth8U)
}

func defaultThresholds() Thresholds {
	return Thresholds{YawDeg: 3, PitchDeg: 4, RollDeg: 2}
}

func TestScorePerfectPoseAndSymmetryIsHigh(t *testing.T) {
	ops := &opsfake.Ops{
		MeanStdDevFn: func(src *models.Image) (float64, float64, error) { return 50, 0, nil },
	}
	s := New(ops, defaultThresholds())

	obs := models.FaceObservation{
		Box: models.Box{X: 0, Y: 0, W: 100, H: 100},
		Annotations: map[string][]models.Point2D{
			"leftEye":  {{X: 30, Y: 50}},
			"rightEye": {{X: 70, Y: 50}},
			"nose":     {{X: 50, Y: 70}},
		},
		Rotation: models.Rotation{},
		Gestures: []string{"facing camera"},
	}

	res := s.Score(gray(), obs)

	require.Greater(t, res.Score.Value, 0.95)
}

func TestScoreMissingLandmarksDefaultsNeutral(t *testing.T) {
	ops := &opsfake.Ops{
		MeanStdDevFn: func(src *models.Image) (float64, float64, error) { return 50, 0, nil },
	}
	s := New(ops, defaultThresholds())

	obs := models.FaceObservation{Box: models.Box{X: 0, Y: 0, W: 100, H: 100}}

	res := s.Score(gray(), obs)

	require.Equal(t, 1.0, res.Details["eyeSymmetry"])
	require.Equal(t, 1.0, res.Details["noseAlignment"])
	require.Equal(t, 1.0, res.Details["mouthSymmetry"])
}

func TestScorePoseAnglesPenalizeBeyondThreshold(t *testing.T) {
	ops := &opsfake.Ops{}
	s := New(ops, defaultThresholds())

	straight := s.Score(gray(), models.FaceObservation{Box: models.Box{W: 100, H: 100}, Rotation: models.Rotation{}})
	turned := s.Score(gray(), models.FaceObservation{Box: models.Box{W: 100, H: 100}, Rotation: models.Rotation{Yaw: 30}})

	require.Less(t, turned.Score.Value, straight.Score.Value)
}

func TestScoreGestureHintBoostsMultiplier(t *testing.T) {
	ops := &opsfake.Ops{}
	s := New(ops, defaultThresholds())

	base := s.Score(gray(), models.FaceObservation{Box: models.Box{W: 100, H: 100}, Rotation: models.Rotation{Yaw: 10}})
	withGesture := s.Score(gray(), models.FaceObservation{
		Box:      models.Box{W: 100, H: 100},
		Rotation: models.Rotation{Yaw: 10},
		Gestures: []string{"facing camera"},
	})

	require.Greater(t, withGesture.Score.Value, base.Score.Value)
}

func TestScoreEdgeSymmetryFailureFallsBackToNeutralWithWarning(t *testing.T) {
	ops := &opsfake.Ops{
		SobelFn: func(src *models.Image, ksize int) (*models.Image, error) {
			return nil, errors.New("sobel unavailable")
		},
	}
	s := New(ops, defaultThresholds())

	res := s.Score(gray(), models.FaceObservation{Box: models.Box{W: 100, H: 100}})

	require.Equal(t, 1.0, res.Details["edgeSymmetry"])
	require.Contains(t, res.Warning, "sobel failed")
}
