package faceanalyzer

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// Track is the single face this session is following across frames. Unlike
// the teacher's multi-person SORT-style tracker (internal/vision/track.go),
// a liveness session only ever cares about one subject at a time, so this
// is a continuity tracker: it answers "is the face in this frame the same
// one I was already looking at" rather than maintaining an identity
// registry across many concurrent faces.
type Track struct {
	BBox            models.Box
	FirstSeenMs     int64
	LastSeenMs      int64
	Hits            int
	TimeSinceUpdate int
}

// Tracker matches each frame's best detection against the previous frame's
// box by IoU, grounded on the teacher's iou()-threshold matching in
// internal/vision/track.go, simplified to a single track slot.
type Tracker struct {
	current   *Track
	maxAgeMs  int64
	minIoU    float64
}

// NewTracker builds a single-face tracker. maxAgeMs is how long the track
// survives a run of empty frames (e.g. a brief occlusion) before it is
// considered lost and a fresh track must be (re)established.
func NewTracker(maxAgeMs int64) *Tracker {
	return &Tracker{maxAgeMs: maxAgeMs, minIoU: 0.3}
}

// Update selects, among this frame's observations, the one that continues
// the current track (highest IoU above minIoU), or — if no track exists
// yet or none match — the observation with the largest box, starting a new
// track. It returns the chosen observation and true, or a zero observation
// and false whenever observations is empty (the track itself is kept until
// it ages past maxAge, but no observation is returned for that frame).
func (t *Tracker) Update(observations []models.FaceObservation, nowMs int64) (models.FaceObservation, bool) {
	if len(observations) == 0 {
		if t.current != nil {
			t.current.TimeSinceUpdate++
			if int64(t.current.TimeSinceUpdate)*16 > t.maxAgeMs { // ~16ms/frame heuristic until a real fps is known
				t.current = nil
			}
		}
		return models.FaceObservation{}, false
	}

	bestIdx := -1
	bestIoU := t.minIoU
	if t.current != nil {
		for i, obs := range observations {
			v := boxIoU(obs.Box, t.current.BBox)
			if v > bestIoU {
				bestIoU = v
				bestIdx = i
			}
		}
	}

	if bestIdx == -1 {
		// No continuity match: pick the largest box (closest/most prominent
		// face) as the new track anchor.
		bestIdx = 0
		bestArea := observations[0].Box.Area()
		for i, obs := range observations {
			if a := obs.Box.Area(); a > bestArea {
				bestArea = a
				bestIdx = i
			}
		}
		t.current = &Track{BBox: observations[bestIdx].Box, FirstSeenMs: nowMs, LastSeenMs: nowMs, Hits: 1}
		return observations[bestIdx], true
	}

	t.current.BBox = observations[bestIdx].Box
	t.current.LastSeenMs = nowMs
	t.current.Hits++
	t.current.TimeSinceUpdate = 0
	return observations[bestIdx], true
}

// Reset discards the current track (used when a session restarts).
func (t *Tracker) Reset() {
	t.current = nil
}

func boxIoU(a, b models.Box) float64 {
	ax2, ay2 := a.X+a.W, a.Y+a.H
	bx2, by2 := b.X+b.W, b.Y+b.H

	ix1 := math.Max(a.X, b.X)
	iy1 := math.Max(a.Y, b.Y)
	ix2 := math.Min(ax2, bx2)
	iy2 := math.Min(ay2, by2)

	iw := math.Max(0, ix2-ix1)
	ih := math.Max(0, iy2-iy1)
	intersection := iw * ih

	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
