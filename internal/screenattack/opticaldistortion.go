package screenattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const opticalRequiredFrames = 1

// OpticalDistortionDetector scores keystone, barrel distortion, and
// vignetting from a single frame's edge map — geometric artifacts typical
// of projected or re-photographed screens (spec §4.4.7). Chromatic
// aberration is an explicit placeholder per spec, contributing zero until
// a dedicated measurement is specified.
type OpticalDistortionDetector struct {
	ops       imageops.Ops
	threshold float64
}

func NewOpticalDistortionDetector(ops imageops.Ops, threshold float64) *OpticalDistortionDetector {
	return &OpticalDistortionDetector{ops: ops, threshold: threshold}
}

func (d *OpticalDistortionDetector) RequiredFrames() int { return opticalRequiredFrames }

func (d *OpticalDistortionDetector) Detect(frame *models.Image) SubResult {
	gray := frame
	if frame.Channels > 1 {
		g, err := d.ops.Grayscale(frame)
		if err != nil {
			return notReady("grayscale failed: " + err.Error())
		}
		defer g.Close()
		gray = g
	}

	edges, err := d.ops.Canny(gray, 50, 150)
	if err != nil {
		return notReady("canny failed: " + err.Error())
	}
	defer edges.Close()

	grid, err := d.ops.ToFloat64Grid(edges)
	if err != nil {
		return notReady(err.Error())
	}
	if len(grid) < 4 {
		return notReady("frame too small")
	}

	keystone := keystoneScore(grid)
	barrel := barrelScore(grid)

	grayGrid, err := d.ops.ToFloat64Grid(gray)
	if err != nil {
		return notReady(err.Error())
	}
	vignette := vignetteScore(grayGrid)

	const chromaticAberration = 0.0 // placeholder, see spec §4.4.7

	composite := 0.35*keystone + 0.30*barrel + 0.20*vignette + 0.15*chromaticAberration
	isScreen := composite > d.threshold

	return SubResult{
		Ready:           true,
		IsScreenCapture: isScreen,
		Confidence:      clamp01(composite),
		Details: map[string]any{
			"keystone":  keystone,
			"barrel":    barrel,
			"vignette":  vignette,
			"composite": composite,
		},
	}
}

// keystoneScore compares the widest detected horizontal edge run in the
// top 20% of rows against the bottom 20%; a large deviation from 1
// suggests a trapezoidal (keystone) shape.
func keystoneScore(grid [][]float64) float64 {
	h := len(grid)
	band := h / 5
	if band < 1 {
		band = 1
	}
	topWidth := maxRowRunWidth(grid[:band])
	bottomWidth := maxRowRunWidth(grid[h-band:])
	if topWidth == 0 || bottomWidth == 0 {
		return 0
	}
	ratio := float64(topWidth) / float64(bottomWidth)
	return clamp01(math.Abs(ratio-1))
}

func maxRowRunWidth(rows [][]float64) int {
	best := 0
	for _, row := range rows {
		runStart := -1
		for x, v := range row {
			if v > 0 {
				if runStart == -1 {
					runStart = x
				}
			} else if runStart != -1 {
				if w := x - runStart; w > best {
					best = w
				}
				runStart = -1
			}
		}
		if runStart != -1 {
			if w := len(row) - runStart; w > best {
				best = w
			}
		}
	}
	return best
}

// barrelScore measures the dispersion of each row's mean edge x-position;
// a straight vertical line under barrel distortion bows outward, raising
// the stddev of these per-row positions relative to image width.
func barrelScore(grid [][]float64) float64 {
	w := len(grid[0])
	var means []float64
	for _, row := range grid {
		var sum, count float64
		for x, v := range row {
			if v > 0 {
				sum += float64(x)
				count++
			}
		}
		if count > 0 {
			means = append(means, sum/count)
		}
	}
	if len(means) < 2 {
		return 0
	}
	_, std := meanStd(means)
	return clamp01(std / float64(w) * 4)
}

// vignetteScore compares the mean brightness of the four image corners
// against the center region.
func vignetteScore(grid [][]float64) float64 {
	h := len(grid)
	if h == 0 {
		return 0
	}
	w := len(grid[0])
	cw, ch := w/6, h/6
	if cw < 1 || ch < 1 {
		return 0
	}

	corner := func(y0, x0 int) float64 {
		var sum, count float64
		for y := y0; y < y0+ch && y < h; y++ {
			for x := x0; x < x0+cw && x < w; x++ {
				sum += grid[y][x]
				count++
			}
		}
		if count == 0 {
			return 0
		}
		return sum / count
	}
	corners := (corner(0, 0) + corner(0, w-cw) + corner(h-ch, 0) + corner(h-ch, w-cw)) / 4

	centerY0, centerX0 := h/2-ch/2, w/2-cw/2
	center := corner(centerY0, centerX0)

	if center <= 0 {
		return 0
	}
	ratio := corners / center
	return clamp01(1 - ratio)
}
