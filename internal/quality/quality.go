// Package quality scores face completeness and sharpness, combined 50/50
// into a pass/fail result used by the detection state machine's
// collection gate.
package quality

import (
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const (
	completenessThreshold = 0.8
	sharpnessThreshold    = 0.6
	passThreshold         = 0.8
	laplacianVarianceCap  = 200.0
)

// Scorer computes the Quality score.
type Scorer struct {
	ops imageops.Ops
}

func New(ops imageops.Ops) *Scorer {
	return &Scorer{ops: ops}
}

// Score returns a models.Result whose Score.Pass() matches the
// combined >= 0.8 rule. frame is the full-resolution color (or grayscale)
// image the box was detected against.
func (s *Scorer) Score(frame *models.Image, box models.Box) models.Result {
	completeness, completenessReason := s.completeness(frame, box)
	sharpness, warning := s.sharpness(frame, box)

	combined := 0.5*completeness + 0.5*sharpness
	score := models.NewScore(combined, passThreshold)

	details := map[string]any{
		"completeness": completeness,
		"sharpness":    sharpness,
	}
	if completenessReason != "" {
		details["completenessReason"] = completenessReason
	}
	if sharpness < sharpnessThreshold {
		details["sharpnessReason"] = "blurry: laplacian variance below threshold"
	}

	return models.Result{Score: score, Warning: warning, Details: details}
}

// completeness is the clipped-box-area / raw-box-area ratio: how much of
// the detected face actually lies inside the frame.
func (s *Scorer) completeness(frame *models.Image, box models.Box) (float64, string) {
	rawArea := box.Area()
	if rawArea <= 0 {
		return 0, "face box has zero area"
	}
	clipped := box.Clip(frame.Width, frame.Height)
	ratio := clipped.Area() / rawArea
	if ratio > 1 {
		ratio = 1
	}
	reason := ""
	if ratio < completenessThreshold {
		reason = "face partially out of frame"
	}
	return ratio, reason
}

// sharpness measures Laplacian variance over a padded face ROI (pad = 10%
// of min(w,h)), scaled so variance >= 200 saturates the score at 1. On
// primitive failure, sharpness defaults to 1.0 per spec §4.3 to avoid
// false rejects of otherwise good frames.
func (s *Scorer) sharpness(frame *models.Image, box models.Box) (float64, string) {
	pad := 0.10 * minF(box.W, box.H)
	padded := models.Box{
		X: box.X - pad,
		Y: box.Y - pad,
		W: box.W + 2*pad,
		H: box.H + 2*pad,
	}.Clip(frame.Width, frame.Height)

	roi, err := s.ops.ROI(frame, padded)
	if err != nil {
		return 1.0, "quality: roi failed, defaulting sharpness to 1.0: " + err.Error()
	}
	defer roi.Close()

	gray := roi
	if frame.Channels > 1 {
		g, err := s.ops.Grayscale(roi)
		if err != nil {
			return 1.0, "quality: grayscale failed, defaulting sharpness to 1.0: " + err.Error()
		}
		defer g.Close()
		gray = g
	}

	lap, err := s.ops.Laplacian(gray)
	if err != nil {
		return 1.0, "quality: laplacian failed, defaulting sharpness to 1.0: " + err.Error()
	}
	defer lap.Close()

	variance, err := s.ops.Variance(lap)
	if err != nil {
		return 1.0, "quality: variance failed, defaulting sharpness to 1.0: " + err.Error()
	}

	score := variance / laplacianVarianceCap
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, ""
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
