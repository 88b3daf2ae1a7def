package screenattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const flickerMinPeriod = 2
const flickerRequiredFrames = 5

// FlickerDetector finds per-pixel brightness autocorrelation peaks
// consistent with LCD/OLED refresh, sampled across the buffered frame
// history (spec §4.4.4).
type FlickerDetector struct {
	ops                    imageops.Ops
	correlationThreshold   float64
	passingRatioMin        float64
	maxPeriodConfigMax     int
}

func NewFlickerDetector(ops imageops.Ops, correlationThreshold, passingRatioMin float64, maxPeriodConfigMax int) *FlickerDetector {
	return &FlickerDetector{ops: ops, correlationThreshold: correlationThreshold, passingRatioMin: passingRatioMin, maxPeriodConfigMax: maxPeriodConfigMax}
}

func (d *FlickerDetector) RequiredFrames() int { return flickerRequiredFrames }

func (d *FlickerDetector) Detect(frames []*models.Image, fps float64) SubResult {
	if len(frames) < flickerRequiredFrames {
		return notReady("flicker requires at least 5 buffered frames")
	}

	w, h := frames[0].Width, frames[0].Height
	pixels := w * h
	stride := 1
	switch {
	case pixels >= 900_000:
		stride = 3
	case pixels >= 100_000:
		stride = 2
	}

	effectiveMax := d.effectiveMaxPeriod(fps)

	var sampled, passing int
	lagCounts := make(map[int]int)

	for y := 0; y < h; y += stride {
		for x := 0; x < w; x += stride {
			series := make([]float64, len(frames))
			ok := true
			for i, f := range frames {
				v, err := d.ops.At(f, x, y)
				if err != nil {
					ok = false
					break
				}
				series[i] = v
			}
			if !ok {
				continue
			}
			sampled++

			bestR, bestLag := bestAutocorrelation(series, flickerMinPeriod, effectiveMax)
			if bestR >= d.correlationThreshold {
				passing++
				lagCounts[bestLag]++
			}
		}
	}

	if sampled == 0 {
		return notReady("no samplable pixels")
	}

	passingRatio := float64(passing) / float64(sampled)
	dominantLag := 0
	dominantCount := -1
	for lag, c := range lagCounts {
		if c > dominantCount {
			dominantCount = c
			dominantLag = lag
		}
	}

	isScreen := passingRatio >= d.passingRatioMin
	details := map[string]any{
		"passingRatio": passingRatio,
		"sampled":      sampled,
		"passing":      passing,
		"dominantLag":  dominantLag,
	}
	if dominantLag > 0 && fps > 0 {
		details["estimatedRefreshHz"] = fps / float64(dominantLag)
	}

	return SubResult{
		Ready:           true,
		IsScreenCapture: isScreen,
		Confidence:      clamp01(passingRatio / maxF(d.passingRatioMin, 0.01)),
		Details:         details,
	}
}

func (d *FlickerDetector) effectiveMaxPeriod(fps float64) int {
	switch {
	case fps >= 50:
		return 3
	case fps >= 30:
		return 4
	case fps >= 15:
		return 8
	default:
		if d.maxPeriodConfigMax > 0 {
			return d.maxPeriodConfigMax
		}
		return 12
	}
}

// bestAutocorrelation returns the maximum normalized autocorrelation
// r[k] = cov(s, s_shifted_k)/var(s) over k in [minK, maxK], and the lag at
// which it occurs.
func bestAutocorrelation(series []float64, minK, maxK int) (float64, int) {
	n := len(series)
	mean, std := meanStd(series)
	variance := std * std
	if variance == 0 {
		return 0, 0
	}
	best := math.Inf(-1)
	bestK := 0
	for k := minK; k <= maxK && k < n; k++ {
		var cov float64
		count := 0
		for i := 0; i+k < n; i++ {
			cov += (series[i] - mean) * (series[i+k] - mean)
			count++
		}
		if count == 0 {
			continue
		}
		cov /= float64(count)
		r := cov / variance
		if r > best {
			best = r
			bestK = k
		}
	}
	if best == math.Inf(-1) {
		return 0, 0
	}
	return best, bestK
}
