// Package frontality scores how directly a detected face faces the
// camera, fusing landmark symmetry, edge symmetry, pose angles, and a
// gesture hint into a single [0,1] score.
package frontality

import (
	"math"
	"strings"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// Thresholds are the degree thresholds below which pose deviation costs
// nothing.
type Thresholds struct {
	YawDeg   float64
	PitchDeg float64
	RollDeg  float64
}

// Scorer computes the Frontality score.
type Scorer struct {
	ops        imageops.Ops
	thresholds Thresholds
}

func New(ops imageops.Ops, thresholds Thresholds) *Scorer {
	return &Scorer{ops: ops, thresholds: thresholds}
}

// Score returns a models.Result with Score.Value in [0,1]. gray is the
// current grayscale frame; obs is this frame's face observation. Any
// ImageOps primitive failure is recovered locally: the edge-symmetry layer
// falls back to 1.0 and a warning is attached, per spec §4.2's failure
// semantics.
func (s *Scorer) Score(gray *models.Image, obs models.FaceObservation) models.Result {
	landmarkScore, landmarkDetails := s.landmarkSymmetry(obs)

	edgeScore, warning := s.edgeSymmetry(gray, obs.Box)

	poseScore, poseDetails := s.poseAngles(obs.Rotation)

	multiplier := 0.75
	for _, g := range obs.Gestures {
		lower := strings.ToLower(g)
		if strings.Contains(lower, "facing center") || strings.Contains(lower, "facing camera") {
			multiplier = 1.0
			break
		}
	}

	combined := (0.40*landmarkScore + 0.35*edgeScore + 0.25*poseScore) * multiplier
	score := models.NewScore(combined, 0)

	details := map[string]any{
		"landmarkSymmetry": landmarkScore,
		"edgeSymmetry":     edgeScore,
		"poseAngles":       poseScore,
		"gestureMultiplier": multiplier,
	}
	for k, v := range landmarkDetails {
		details[k] = v
	}
	for k, v := range poseDetails {
		details[k] = v
	}

	return models.Result{Score: score, Warning: warning, Details: details}
}

// landmarkSymmetry fuses eye Y-alignment (0.5), nose X-centering (0.3),
// and mouth-corner Y-alignment (0.2). A missing landmark group defaults
// its sub-score to 1.0 (neutral), per spec §9.
func (s *Scorer) landmarkSymmetry(obs models.FaceObservation) (float64, map[string]any) {
	eyeScore := 1.0
	if leftEye, ok1 := firstPoint(obs.Annotations, "leftEye"); ok1 {
		if rightEye, ok2 := firstPoint(obs.Annotations, "rightEye"); ok2 {
			eyeScore = symmetryYScore(leftEye, rightEye, 0.3)
		}
	}

	noseScore := 1.0
	if leftEye, ok1 := firstPoint(obs.Annotations, "leftEye"); ok1 {
		if rightEye, ok2 := firstPoint(obs.Annotations, "rightEye"); ok2 {
			if nose, ok3 := firstPoint(obs.Annotations, "nose"); ok3 {
				eyeDist := distance(leftEye, rightEye)
				eyeMidX := (leftEye.X + rightEye.X) / 2
				if eyeDist > 0 {
					noseScore = clamp01(1 - math.Abs(nose.X-eyeMidX)/(eyeDist*0.25))
				}
			}
		}
	}

	mouthScore := 1.0
	if mLeft, ok1 := firstPoint(obs.Annotations, "mouthCornerLeft"); ok1 {
		if mRight, ok2 := firstPoint(obs.Annotations, "mouthCornerRight"); ok2 {
			mouthScore = symmetryYScore(mLeft, mRight, 0.2)
		}
	}

	combined := 0.5*eyeScore + 0.3*noseScore + 0.2*mouthScore
	return combined, map[string]any{
		"eyeSymmetry":   eyeScore,
		"noseAlignment": noseScore,
		"mouthSymmetry": mouthScore,
	}
}

func symmetryYScore(a, b models.Point2D, tol float64) float64 {
	d := distance(a, b)
	if d <= 0 {
		return 1.0
	}
	return clamp01(1 - math.Abs(a.Y-b.Y)/(d*tol))
}

func distance(a, b models.Point2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func firstPoint(annotations map[string][]models.Point2D, key string) (models.Point2D, bool) {
	pts, ok := annotations[key]
	if !ok || len(pts) == 0 {
		return models.Point2D{}, false
	}
	return pts[0], true
}

// edgeSymmetry compares Sobel-magnitude energy between the left and right
// halves of the face ROI. Floor of 0.5 prevents natural lighting/hair
// asymmetry from dominating the layer.
func (s *Scorer) edgeSymmetry(gray *models.Image, box models.Box) (float64, string) {
	roi, err := s.ops.ROI(gray, box)
	if err != nil {
		return 1.0, "frontality: roi failed, falling back to neutral edge symmetry: " + err.Error()
	}
	defer roi.Close()

	edges, err := s.ops.Sobel(roi, 3)
	if err != nil {
		return 1.0, "frontality: sobel failed, falling back to neutral edge symmetry: " + err.Error()
	}
	defer edges.Close()

	halfW := edges.Width / 2
	if halfW == 0 {
		return 1.0, ""
	}

	left, err := s.ops.ROI(edges, models.Box{X: 0, Y: 0, W: float64(halfW), H: float64(edges.Height)})
	if err != nil {
		return 1.0, "frontality: left-half roi failed: " + err.Error()
	}
	defer left.Close()
	right, err := s.ops.ROI(edges, models.Box{X: float64(edges.Width - halfW), Y: 0, W: float64(halfW), H: float64(edges.Height)})
	if err != nil {
		return 1.0, "frontality: right-half roi failed: " + err.Error()
	}
	defer right.Close()

	leftMean, _, err := s.ops.MeanStdDev(left)
	if err != nil {
		return 1.0, "frontality: left meanStdDev failed: " + err.Error()
	}
	rightMean, _, err := s.ops.MeanStdDev(right)
	if err != nil {
		return 1.0, "frontality: right meanStdDev failed: " + err.Error()
	}

	leftSum := leftMean * float64(left.Width*left.Height)
	rightSum := rightMean * float64(right.Width*right.Height)
	maxSum := math.Max(leftSum, rightSum)
	if maxSum <= 0 {
		return 1.0, ""
	}
	minSum := math.Min(leftSum, rightSum)
	ratio := minSum / maxSum
	return math.Max(0.5, ratio), ""
}

// poseAngles starts at 1.0 and subtracts a weighted penalty for each axis
// that exceeds its configured threshold.
func (s *Scorer) poseAngles(rot models.Rotation) (float64, map[string]any) {
	yawPenalty := 0.15 * math.Max(0, math.Abs(rot.Yaw)-s.thresholds.YawDeg)
	pitchPenalty := 0.10 * math.Max(0, math.Abs(rot.Pitch)-s.thresholds.PitchDeg)
	rollPenalty := 0.12 * math.Max(0, math.Abs(rot.Roll)-s.thresholds.RollDeg)
	score := clamp01(1 - yawPenalty - pitchPenalty - rollPenalty)
	return score, map[string]any{
		"yawPenalty":   yawPenalty,
		"pitchPenalty": pitchPenalty,
		"rollPenalty":  rollPenalty,
	}
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

