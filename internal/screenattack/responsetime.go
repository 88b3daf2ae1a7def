package screenattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const (
	responseTimeRequiredFrames = 10
	responseTimeDeltaThreshold = 15.0 // brightness units considered a "change event"
	responseTimeSettleEpsilon  = 3.0
	responseTimeSampleStride   = 4
)

// ResponseTimeDetector measures how many frames a changed pixel takes to
// settle, flagging settling times characteristic of e-ink's slow pixel
// transitions (~100-500ms) rather than camera/LCD refresh (spec §4.4.5).
type ResponseTimeDetector struct {
	ops           imageops.Ops
	thresholdMs   float64
	minFraction   float64
}

func NewResponseTimeDetector(ops imageops.Ops, thresholdMs, minFraction float64) *ResponseTimeDetector {
	return &ResponseTimeDetector{ops: ops, thresholdMs: thresholdMs, minFraction: minFraction}
}

func (d *ResponseTimeDetector) RequiredFrames() int { return responseTimeRequiredFrames }

func (d *ResponseTimeDetector) Detect(frames []*models.Image, fps float64) SubResult {
	if len(frames) < responseTimeRequiredFrames {
		return notReady("response-time requires at least 10 buffered frames")
	}
	if fps <= 0 {
		return notReady("fps unavailable")
	}
	frameIntervalMs := 1000.0 / fps

	w, h := frames[0].Width, frames[0].Height
	var changedPixels, slowPixels int

	for y := 0; y < h; y += responseTimeSampleStride {
		for x := 0; x < w; x += responseTimeSampleStride {
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

			for i := 1; i < len(series); i++ {
				delta := math.Abs(series[i] - series[i-1])
				if delta < responseTimeDeltaThreshold {
					continue
				}
				changedPixels++
				target := series[len(series)-1]
				settleFrames := len(series) - i
				for j := i; j < len(series); j++ {
					if math.Abs(series[j]-target) <= responseTimeSettleEpsilon {
						settleFrames = j - i
						break
					}
				}
				settleMs := float64(settleFrames) * frameIntervalMs
				if settleMs >= d.thresholdMs {
					slowPixels++
				}
				break // one change event per pixel series is enough signal
			}
		}
	}

	if changedPixels == 0 {
		return notReady("no brightness-change events observed")
	}

	fraction := float64(slowPixels) / float64(changedPixels)
	isScreen := fraction >= d.minFraction

	return SubResult{
		Ready:           true,
		IsScreenCapture: isScreen,
		Confidence:      clamp01(fraction / maxF(d.minFraction, 0.01)),
		Details: map[string]any{
			"changedPixels": changedPixels,
			"slowPixels":    slowPixels,
			"fraction":      fraction,
		},
	}
}
