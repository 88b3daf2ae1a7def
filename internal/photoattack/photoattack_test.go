package photoattack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

func meshObservation(nearXY, midXY, farXY [2]float64, embedding []float32) models.FaceObservation {
	mesh := make([]models.Point3D, 400)
	set := func(idx int, xy [2]float64) { mesh[idx] = models.Point3D{X: xy[0], Y: xy[1]} }
	for _, idx := range models.MeshGroupNear {
		set(idx, nearXY)
	}
	for _, idx := range models.MeshGroupMid {
		set(idx, midXY)
	}
	for _, idx := range models.MeshGroupFar {
		set(idx, farXY)
	}
	return models.FaceObservation{MeshRaw: mesh, Embedding: embedding}
}

func TestEmbeddingIndicatorNotReadyWithFewerThanTwoPairs(t *testing.T) {
	buf := []models.FaceObservation{{Embedding: []float32{1, 0}}}

	_, ready, _, _ := embeddingIndicator(buf)

	require.False(t, ready)
}

func TestEmbeddingIndicatorIgnoresFramesMissingEmbeddings(t *testing.T) {
	buf := []models.FaceObservation{
		{Embedding: []float32{1, 0}},
		{},
		{Embedding: []float32{1, 0}},
	}

	_, ready, _, _ := embeddingIndicator(buf)

	require.False(t, ready)
}

func TestEmbeddingIndicatorFlagsStaticReplay(t *testing.T) {
	emb := []float32{1, 0, 0}
	buf := []models.FaceObservation{{Embedding: emb}, {Embedding: emb}, {Embedding: emb}}

	ind, ready, mean, maxDist := embeddingIndicator(buf)

	require.True(t, ready)
	require.Equal(t, 0.0, mean)
	require.Equal(t, 0.0, maxDist)
	require.Equal(t, 0.8, ind)
}

func TestEmbeddingIndicatorFlagsIdentitySwap(t *testing.T) {
	buf := []models.FaceObservation{
		{Embedding: []float32{1, 0, 0}},
		{Embedding: []float32{1, 0, 0}},
		{Embedding: []float32{0, 1, 0}},
	}

	ind, ready, _, maxDist := embeddingIndicator(buf)

	require.True(t, ready)
	require.Greater(t, maxDist, maxEmbeddingDistanceForSwap)
	require.Equal(t, 1.0, ind)
}

func TestEmbeddingIndicatorNeutralWithModerateDrift(t *testing.T) {
	buf := []models.FaceObservation{
		{Embedding: []float32{1, 0, 0}},
		{Embedding: []float32{0.9, 0.1, 0}},
		{Embedding: []float32{0.85, 0.15, 0}},
	}

	ind, ready, _, _ := embeddingIndicator(buf)

	require.True(t, ready)
	require.Equal(t, 0.0, ind)
}

func TestEvaluateWithEmbeddingsMarksDetailsReady(t *testing.T) {
	d := New(10, 10)
	for i := 0; i < 3; i++ {
		d.Add(meshObservation([2]float64{0, 0}, [2]float64{0, 0}, [2]float64{0, 0}, []float32{1, 0, 0}))
	}

	res := d.Evaluate()

	require.Equal(t, true, res.Details["embeddingReady"])
	require.Contains(t, res.Details, "embeddingIndicator")
}

func TestEvaluateWithoutEmbeddingsLeavesReadyFalse(t *testing.T) {
	d := New(10, 10)
	for i := 0; i < 3; i++ {
		d.Add(meshObservation([2]float64{0, 0}, [2]float64{0, 0}, [2]float64{0, 0}, nil))
	}

	res := d.Evaluate()

	require.Equal(t, false, res.Details["embeddingReady"])
	require.NotContains(t, res.Details, "embeddingIndicator")
}

func TestEvaluateFewerThanTwoFramesNotTrusted(t *testing.T) {
	d := New(5, 5)
	d.Add(meshObservation([2]float64{0, 0}, [2]float64{0, 0}, [2]float64{0, 0}, nil))

	res := d.Evaluate()

	require.False(t, res.Trusted)
	require.False(t, res.IsPhoto)
}

func TestEvaluateRigidUniformMotionFlagsPhoto(t *testing.T) {
	d := New(5, 5)
	for i := 0; i < 5; i++ {
		shift := [2]float64{float64(i), float64(i)}
		d.Add(meshObservation(shift, shift, shift, nil))
	}

	res := d.Evaluate()

	require.True(t, res.IsPhoto)
}
