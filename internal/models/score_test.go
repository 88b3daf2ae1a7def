package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewScoreClampsRange(t *testing.T) {
	require.Equal(t, 0.0, NewScore(-1, 0.5).Value)
	require.Equal(t, 1.0, NewScore(2, 0.5).Value)
	require.Equal(t, 0.5, NewScore(0.5, 0.5).Value)
}

func TestNewScoreTreatsNaNAsZero(t *testing.T) {
	s := NewScore(math.NaN(), 0.5)
	require.Equal(t, 0.0, s.Value)
}

func TestScorePass(t *testing.T) {
	require.True(t, NewScore(0.7, 0.7).Pass())
	require.True(t, NewScore(0.9, 0.7).Pass())
	require.False(t, NewScore(0.6, 0.7).Pass())
}
