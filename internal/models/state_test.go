package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDetectionStateStartsInDetect(t *testing.T) {
	s := NewDetectionState(1234)

	require.Equal(t, PeriodDetect, s.Period)
	require.Equal(t, int64(1234), s.StartTimeMs)
	require.NotNil(t, s.CompletedActions)
	require.Empty(t, s.CompletedActions)
}

func TestDetectionStateResetPreservesFraudCount(t *testing.T) {
	s := NewDetectionState(0)
	s.SuspectedFraudCount = 3
	s.Period = PeriodVerify
	s.CollectCount = 5
	s.BestQualityScore = 0.8
	s.BestFrameImage = []byte("frame")
	s.BestFaceImage = []byte("face")
	s.BestEmbedding = []float32{1, 2, 3}
	action := ActionBlink
	s.CurrentAction = &action
	s.CompletedActions[ActionBlink] = true

	s.Reset(500)

	require.Equal(t, PeriodDetect, s.Period)
	require.Equal(t, int64(500), s.StartTimeMs)
	require.Zero(t, s.CollectCount)
	require.Zero(t, s.BestQualityScore)
	require.Nil(t, s.BestFrameImage)
	require.Nil(t, s.BestFaceImage)
	require.Nil(t, s.BestEmbedding)
	require.Nil(t, s.CurrentAction)
	require.Empty(t, s.CompletedActions)
	require.Equal(t, 3, s.SuspectedFraudCount, "fraud count must persist across resets")
}

func TestHasBestFrameInvariant(t *testing.T) {
	s := NewDetectionState(0)
	require.False(t, s.HasBestFrame())

	s.BestFrameImage = []byte("x")
	require.False(t, s.HasBestFrame(), "score still zero")

	s.BestQualityScore = 0.5
	require.True(t, s.HasBestFrame())
}
