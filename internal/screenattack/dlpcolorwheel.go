package screenattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const (
	dlpRequiredFrames = 3
	dlpSearchRadius   = 5
)

// DLPColorWheelDetector measures chromatic separation at strong edges —
// a spinning color wheel DLP projector leaves a transient per-channel
// offset at high-contrast edges — and checks it for temporal stability
// across the buffered frames (spec §4.4.6).
type DLPColorWheelDetector struct {
	ops               imageops.Ops
	separationPixels  float64
}

func NewDLPColorWheelDetector(ops imageops.Ops, separationPixels float64) *DLPColorWheelDetector {
	return &DLPColorWheelDetector{ops: ops, separationPixels: separationPixels}
}

func (d *DLPColorWheelDetector) RequiredFrames() int { return dlpRequiredFrames }

func (d *DLPColorWheelDetector) Detect(frames []*models.Image, _ float64) SubResult {
	if len(frames) < dlpRequiredFrames {
		return notReady("dlp color wheel requires at least 3 buffered frames")
	}

	var offsets []float64
	for _, f := range frames {
		if f.Channels < 3 {
			return notReady("dlp color wheel requires color frames")
		}
		offset, err := d.perFrameOffset(f)
		if err != nil {
			continue
		}
		offsets = append(offsets, offset)
	}

	if len(offsets) < dlpRequiredFrames {
		return notReady("insufficient measurable color edges")
	}

	mean, std := meanStd(offsets)
	stability := 0.0
	if mean > 0 {
		stability = clamp01(1 - std/mean)
	}

	isDLP := mean >= d.separationPixels && stability >= 0.6
	confidence := clamp01(mean / maxF(d.separationPixels, 0.5) * stability)

	return SubResult{
		Ready:           true,
		IsScreenCapture: isDLP,
		Confidence:      confidence,
		Details: map[string]any{
			"meanOffsetPx": mean,
			"stability":    stability,
		},
	}
}

// perFrameOffset finds, for each green-channel edge pixel, the nearest
// red- and blue-channel edge pixel within a horizontal search window, and
// returns the mean offset magnitude across all matched edges.
func (d *DLPColorWheelDetector) perFrameOffset(frame *models.Image) (float64, error) {
	b, g, r, err := d.ops.SplitChannels(frame)
	if err != nil {
		return 0, err
	}
	defer b.Close()
	defer g.Close()
	defer r.Close()

	gEdges, err := d.ops.Canny(g, 50, 150)
	if err != nil {
		return 0, err
	}
	defer gEdges.Close()
	rEdges, err := d.ops.Canny(r, 50, 150)
	if err != nil {
		return 0, err
	}
	defer rEdges.Close()
	bEdges, err := d.ops.Canny(b, 50, 150)
	if err != nil {
		return 0, err
	}
	defer bEdges.Close()

	gGrid, err := d.ops.ToFloat64Grid(gEdges)
	if err != nil {
		return 0, err
	}
	rGrid, err := d.ops.ToFloat64Grid(rEdges)
	if err != nil {
		return 0, err
	}
	bGrid, err := d.ops.ToFloat64Grid(bEdges)
	if err != nil {
		return 0, err
	}

	var sum float64
	var count int
	for y := range gGrid {
		for x := range gGrid[y] {
			if gGrid[y][x] <= 0 {
				continue
			}
			rOffset := nearestEdgeOffset(rGrid, y, x, dlpSearchRadius)
			bOffset := nearestEdgeOffset(bGrid, y, x, dlpSearchRadius)
			if rOffset < 0 || bOffset < 0 {
				continue
			}
			sum += math.Abs(rOffset-bOffset)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

func nearestEdgeOffset(grid [][]float64, y, x, radius int) float64 {
	if y < 0 || y >= len(grid) {
		return -1
	}
	row := grid[y]
	for r := 0; r <= radius; r++ {
		if x+r < len(row) && row[x+r] > 0 {
			return float64(r)
		}
		if x-r >= 0 && row[x-r] > 0 {
			return float64(r)
		}
	}
	return -1
}
