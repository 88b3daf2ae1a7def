// Package faceanalyzer is the concrete adapter behind spec.md's opaque
// FaceAnalyzer dependency: per-frame face detection returning a box, a
// mesh, gesture labels, and initial real/live scores. The box and 5-point
// landmarks come from a real RetinaFace ONNX model (grounded on the
// teacher's internal/vision/detect.go); the 468-point mesh, rotation angles
// and gesture labels are derived geometrically from those 5 points, since
// no mesh model ships in this pack and the spec treats FaceAnalyzer's
// internals as out of scope — only the interface in models.FaceObservation
// is load-bearing.
package faceanalyzer

import (
	"context"
	"fmt"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// Analyzer is the interface core detectors/scorers are written against.
// Exactly one *models.FaceObservation is returned per detected face.
type Analyzer interface {
	// Analyze runs detection on a single color frame and returns zero or
	// more face observations, highest-confidence first.
	Analyze(ctx context.Context, frame *models.Image) ([]models.FaceObservation, error)
	// Close releases native resources (ONNX sessions).
	Close()
}

// Config configures the ONNX-backed analyzer.
type Config struct {
	ModelsDir          string
	DetectionThreshold float32
	MinFaceSize        float32
	IntraOpThreads     int
	InterOpThreads     int
	// EnableEmbedding controls whether the ArcFace embedder runs per frame
	// for the optional embedding-consistency cross-check. Disabled by
	// default since most deployments only need the consistency check when
	// the photo-attack detector's mesh-motion signal is itself inconclusive.
	EnableEmbedding bool
}

// onnxAnalyzer wires the RetinaFace detector, the geometric mesh
// approximation, and (optionally) the ArcFace embedder.
type onnxAnalyzer struct {
	ops      imageops.Ops
	detector *Detector
	embedder *Embedder
	cfg      Config
}

// New loads the ONNX detector (and embedder, if enabled) and returns a
// ready Analyzer.
func New(cfg Config, ops imageops.Ops) (Analyzer, error) {
	det, err := NewDetector(cfg.ModelsDir, cfg.DetectionThreshold, cfg.IntraOpThreads, cfg.InterOpThreads)
	if err != nil {
		return nil, fmt.Errorf("faceanalyzer: load detector: %w", err)
	}

	var emb *Embedder
	if cfg.EnableEmbedding {
		emb, err = NewEmbedder(cfg.ModelsDir)
		if err != nil {
			det.Close()
			return nil, fmt.Errorf("faceanalyzer: load embedder: %w", err)
		}
	}

	return &onnxAnalyzer{ops: ops, detector: det, embedder: emb, cfg: cfg}, nil
}

func (a *onnxAnalyzer) Analyze(ctx context.Context, frame *models.Image) ([]models.FaceObservation, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	detections, err := a.detector.Detect(a.ops, frame)
	if err != nil {
		return nil, fmt.Errorf("faceanalyzer: detect: %w", err)
	}

	if a.cfg.MinFaceSize > 0 {
		filtered := detections[:0]
		for _, d := range detections {
			w := d.BBox[2] - d.BBox[0]
			h := d.BBox[3] - d.BBox[1]
			if w >= a.cfg.MinFaceSize && h >= a.cfg.MinFaceSize {
				filtered = append(filtered, d)
			}
		}
		detections = filtered
	}

	observations := make([]models.FaceObservation, 0, len(detections))
	for _, d := range detections {
		obs := toObservation(d)
		if a.embedder != nil {
			if crop, err := a.ops.ROI(frame, obs.Box); err == nil {
				if emb, err := a.embedder.Extract(a.ops, crop); err == nil {
					obs.Embedding = emb
				}
				crop.Close()
			}
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func (a *onnxAnalyzer) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
}
