// Package photoattack implements the motion-perspective consistency
// detector: a flat printed photo or static replay moves rigidly under
// hand-jitter, while a real face's near-camera points shift more than its
// far points under genuine head rotation (spec §4.5).
package photoattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/faceanalyzer"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const defaultBufferSize = 15
const defaultRequiredFrameCount = 15

// Embedding-consistency cross-check thresholds (SPEC_FULL.md §12),
// additive to the mesh-motion analysis above and only evaluated when the
// FaceAnalyzer supplies embeddings. ArcFace embeddings are L2-normalized,
// so Euclidean distance is monotonic in cosine similarity.
const (
	minEmbeddingDriftForReplay  = 0.03 // below this across many frames: suspiciously frozen identity, a static replay
	maxEmbeddingDistanceForSwap = 1.1  // above this between consecutive frames: identity changed mid-session
)

// displacement is a 2D motion vector for one mesh index between two
// consecutive observations.
type displacement struct {
	dx, dy, magnitude float64
}

// Detector buffers the most recent FaceObservations and evaluates
// 2D motion-perspective consistency across the near/mid/far mesh groups.
type Detector struct {
	bufferSize         int
	requiredFrameCount int
	buffer             []models.FaceObservation
}

func New(bufferSize, requiredFrameCount int) *Detector {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if requiredFrameCount <= 0 {
		requiredFrameCount = defaultRequiredFrameCount
	}
	return &Detector{bufferSize: bufferSize, requiredFrameCount: requiredFrameCount}
}

// Add appends an observation to the ring, evicting the oldest once full.
func (d *Detector) Add(obs models.FaceObservation) {
	d.buffer = append(d.buffer, obs)
	if len(d.buffer) > d.bufferSize {
		d.buffer = d.buffer[len(d.buffer)-d.bufferSize:]
	}
}

// Reset clears the buffered observation history.
func (d *Detector) Reset() {
	d.buffer = nil
}

// Result is the photo-attack verdict.
type Result struct {
	IsPhoto    bool
	Confidence float64
	Trusted    bool
	Details    map[string]any
}

// Evaluate computes the motion-perspective consistency metrics over the
// buffered observation history.
func (d *Detector) Evaluate() Result {
	framesSeen := len(d.buffer)
	trusted := framesSeen >= d.requiredFrameCount

	if framesSeen < 2 {
		return Result{Trusted: trusted, Details: map[string]any{"framesSeen": framesSeen}}
	}

	nearDisps := groupDisplacements(d.buffer, models.MeshGroupNear)
	midDisps := groupDisplacements(d.buffer, models.MeshGroupMid)
	farDisps := groupDisplacements(d.buffer, models.MeshGroupFar)

	all := append(append(append([]displacement{}, nearDisps...), midDisps...), farDisps...)
	if len(all) == 0 {
		return Result{Trusted: trusted, Details: map[string]any{"framesSeen": framesSeen, "reason": "no trackable mesh indices"}}
	}

	motionVariance := varianceOfMagnitudes(all)
	perspectiveRatio := ratioOf(nearDisps, farDisps)
	directionConsistency := directionConsistencyScore(all)
	affineMatch := affineMatchScore(all)

	ratioIndicator := perspectiveRatioIndicator(perspectiveRatio)
	varianceIndicator := lowVarianceIndicator(motionVariance)
	directionIndicator := directionConsistency // already photo-likelihood in [0,1]: highly uniform direction suggests rigid (photo) motion
	affineIndicator := affineMatch
	embIndicator, embReady, embMeanDist, embMaxDist := embeddingIndicator(d.buffer)

	var score float64
	switch {
	case ratioIndicator > 0.9:
		score = ratioIndicator
	case embReady:
		score = (2*ratioIndicator + varianceIndicator + directionIndicator + affineIndicator + embIndicator) / 6
	default:
		score = (2*ratioIndicator + varianceIndicator + directionIndicator + affineIndicator) / 5
	}

	isPhoto := score > 0.5

	details := map[string]any{
		"framesSeen":            framesSeen,
		"motionVariance":        motionVariance,
		"perspectiveRatio":      perspectiveRatio,
		"directionConsistency":  directionConsistency,
		"affineMatch":           affineMatch,
		"ratioIndicator":        ratioIndicator,
		"embeddingReady":        embReady,
	}
	if embReady {
		details["embeddingMeanDistance"] = embMeanDist
		details["embeddingMaxDistance"] = embMaxDist
		details["embeddingIndicator"] = embIndicator
	}

	return Result{
		IsPhoto:    isPhoto,
		Confidence: clamp01(score),
		Trusted:    trusted,
		Details:    details,
	}
}

// embeddingIndicator maps frame-to-frame ArcFace embedding drift to a
// photo-likelihood in [0,1] (SPEC_FULL.md §12). Too little drift across
// many frames reads as a frozen, replayed identity; a sudden large jump
// reads as the subject changing mid-session. ready is false when fewer
// than two consecutive frame pairs carry an embedding, which keeps this
// signal purely additive — it never runs without FaceAnalyzer support.
func embeddingIndicator(buffer []models.FaceObservation) (indicator float64, ready bool, meanDist, maxDist float64) {
	var dists []float64
	for i := 1; i < len(buffer); i++ {
		a, b := buffer[i-1].Embedding, buffer[i].Embedding
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		dists = append(dists, faceanalyzer.EmbeddingDistance(a, b))
	}
	if len(dists) < 2 {
		return 0, false, 0, 0
	}

	mean, _ := meanStd(dists)
	maxDist = dists[0]
	for _, d := range dists {
		if d > maxDist {
			maxDist = d
		}
	}

	switch {
	case maxDist > maxEmbeddingDistanceForSwap:
		return 1, true, mean, maxDist
	case mean < minEmbeddingDriftForReplay:
		return 0.8, true, mean, maxDist
	default:
		return 0, true, mean, maxDist
	}
}

// groupDisplacements computes consecutive-frame displacement vectors for
// every index in group, skipping frame pairs where either side lacks that
// mesh index (absence is first-class, not an error — spec §9).
func groupDisplacements(buffer []models.FaceObservation, group []int) []displacement {
	var out []displacement
	for i := 1; i < len(buffer); i++ {
		prev, cur := buffer[i-1], buffer[i]
		for _, idx := range group {
			p0, ok0 := prev.MeshPoint(idx)
			p1, ok1 := cur.MeshPoint(idx)
			if !ok0 || !ok1 {
				continue
			}
			dx := p1.X - p0.X
			dy := p1.Y - p0.Y
			out = append(out, displacement{dx: dx, dy: dy, magnitude: math.Hypot(dx, dy)})
		}
	}
	return out
}

func varianceOfMagnitudes(disps []displacement) float64 {
	mags := make([]float64, len(disps))
	for i, d := range disps {
		mags[i] = d.magnitude
	}
	_, std := meanStd(mags)
	return std * std
}

// ratioOf returns mean(near magnitudes) / mean(far magnitudes). On
// identical frames (zero motion in both), returns the neutral value 1
// (spec §8 universal invariant 5).
func ratioOf(near, far []displacement) float64 {
	nearMean := meanMagnitude(near)
	farMean := meanMagnitude(far)
	if nearMean == 0 && farMean == 0 {
		return 1
	}
	if farMean == 0 {
		return math.Inf(1)
	}
	return nearMean / farMean
}

func meanMagnitude(disps []displacement) float64 {
	if len(disps) == 0 {
		return 0
	}
	var sum float64
	for _, d := range disps {
		sum += d.magnitude
	}
	return sum / float64(len(disps))
}

// directionConsistencyScore computes the mean cosine similarity of each
// displacement with the average displacement, mapped to [0,1]. High
// consistency (all points moving the same way) indicates rigid,
// whole-object motion — characteristic of a flat photo panned in front of
// the camera rather than independent 3D facial motion.
func directionConsistencyScore(disps []displacement) float64 {
	if len(disps) == 0 {
		return 0
	}
	var avgDx, avgDy float64
	for _, d := range disps {
		avgDx += d.dx
		avgDy += d.dy
	}
	avgDx /= float64(len(disps))
	avgDy /= float64(len(disps))
	avgMag := math.Hypot(avgDx, avgDy)
	if avgMag == 0 {
		return 1 // everything static together: maximal rigidity
	}

	var sumCos float64
	var count int
	for _, d := range disps {
		if d.magnitude == 0 {
			continue
		}
		cos := (d.dx*avgDx + d.dy*avgDy) / (d.magnitude * avgMag)
		sumCos += cos
		count++
	}
	if count == 0 {
		return 1
	}
	mean := sumCos / float64(count)
	return clamp01((mean + 1) / 2)
}

// affineMatchScore is 1 - mean(||d - avgD||) / ||avgD||; high ⇒ every
// point moved by nearly the same vector ⇒ uniform affine (photo) motion.
func affineMatchScore(disps []displacement) float64 {
	if len(disps) == 0 {
		return 0
	}
	var avgDx, avgDy float64
	for _, d := range disps {
		avgDx += d.dx
		avgDy += d.dy
	}
	avgDx /= float64(len(disps))
	avgDy /= float64(len(disps))
	avgMag := math.Hypot(avgDx, avgDy)
	if avgMag == 0 {
		return 1
	}

	var sumDev float64
	for _, d := range disps {
		sumDev += math.Hypot(d.dx-avgDx, d.dy-avgDy)
	}
	meanDev := sumDev / float64(len(disps))
	return clamp01(1 - meanDev/avgMag)
}

// perspectiveRatioIndicator maps perspectiveRatio to a photo-likelihood
// in [0,1]. A ratio below 1 (far points moving more than near
// points — geometrically implausible under real head rotation)
// short-circuits to a near-certain photo indicator.
func perspectiveRatioIndicator(ratio float64) float64 {
	if math.IsInf(ratio, 1) {
		return 0
	}
	if ratio < 1 {
		return 0.95
	}
	// Real faces typically show ratio in [1.2, 3]; map higher ratios to a
	// lower photo-likelihood.
	if ratio >= 3 {
		return 0
	}
	return clamp01(1 - (ratio-1)/2)
}

// lowVarianceIndicator maps motion variance to a photo-likelihood: very
// low variance (near-rigid motion) is itself suspicious.
func lowVarianceIndicator(variance float64) float64 {
	const lowVarianceCeiling = 0.5
	if variance >= lowVarianceCeiling {
		return 0
	}
	return clamp01(1 - variance/lowVarianceCeiling)
}

func meanStd(vals []float64) (mean, std float64) {
	n := float64(len(vals))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / n
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
