package quality

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sssxyd/face-liveness-detector/internal/imageops/opsfake"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

func frame() *models.Image {
	return models.NewImage(fakeHandle{}, 640, 480, 3, models.Depth8U)
}

type fakeHandle struct{}

func (fakeHandle) Close() error { return nil }
func (fakeHandle) Empty() bool  { return false }

func TestScoreFullyInBoundsSharpFrameCombines(t *testing.T) {
	ops := &opsfake.Ops{
		VarianceFn: func(src *models.Image) (float64, error) { return 200, nil },
	}
	s := New(ops)

	res := s.Score(frame(), models.Box{X: 100, Y: 100, W: 200, H: 200})

	require.InDelta(t, 1.0, res.Score.Value, 1e-9)
	require.True(t, res.Score.Pass())
	require.Equal(t, 1.0, res.Details["completeness"])
	require.Equal(t, 1.0, res.Details["sharpness"])
}

func TestScorePartiallyOutOfFrameReducesCompleteness(t *testing.T) {
	ops := &opsfake.Ops{
		VarianceFn: func(src *models.Image) (float64, error) { return 200, nil },
	}
	s := New(ops)

	// Box extends 100px past the right edge of a 640-wide frame.
	res := s.Score(frame(), models.Box{X: 600, Y: 100, W: 140, H: 200})

	completeness := res.Details["completeness"].(float64)
	require.Less(t, completeness, 1.0)
	require.Equal(t, "face partially out of frame", res.Details["completenessReason"])
}

func TestScoreZeroAreaBoxFailsCompleteness(t *testing.T) {
	s := New(&opsfake.Ops{})

	res := s.Score(frame(), models.Box{X: 0, Y: 0, W: 0, H: 0})

	require.Equal(t, 0.0, res.Details["completeness"])
	require.Equal(t, "face box has zero area", res.Details["completenessReason"])
}

func TestScoreBlurryFrameFailsSharpness(t *testing.T) {
	ops := &opsfake.Ops{
		VarianceFn: func(src *models.Image) (float64, error) { return 10, nil },
	}
	s := New(ops)

	res := s.Score(frame(), models.Box{X: 100, Y: 100, W: 200, H: 200})

	require.False(t, res.Score.Pass())
	require.Contains(t, res.Details, "sharpnessReason")
}

func TestScoreROIFailureDefaultsSharpnessToOneWithWarning(t *testing.T) {
	ops := &opsfake.Ops{
		ROIFn: func(src *models.Image, box models.Box) (*models.Image, error) {
			return nil, errors.New("roi out of bounds")
		},
	}
	s := New(ops)

	res := s.Score(frame(), models.Box{X: 100, Y: 100, W: 200, H: 200})

	require.Equal(t, 1.0, res.Details["sharpness"])
	require.Contains(t, res.Warning, "roi failed")
}

func TestScoreVarianceAboveCapSaturatesAtOne(t *testing.T) {
	ops := &opsfake.Ops{
		VarianceFn: func(src *models.Image) (float64, error) { return 10_000, nil },
	}
	s := New(ops)

	res := s.Score(frame(), models.Box{X: 100, Y: 100, W: 200, H: 200})

	require.Equal(t, 1.0, res.Details["sharpness"])
}
