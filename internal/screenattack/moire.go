package screenattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

const (
	moireMaxDim   = 256
	moireACLow    = 1
	moireACHigh   = 64
	moirePeakMult = 2.0
)

// MoireDetector detects screen pixel-grid vs. camera-sensor-grid
// interference via a morphological high-pass, Hanning window, and 2D DCT
// spectrum analysis, with an optional Canny-edge autocorrelation auxiliary
// signal (spec §4.4.1).
type MoireDetector struct {
	ops       imageops.Ops
	threshold float64
}

func NewMoireDetector(ops imageops.Ops, threshold float64) *MoireDetector {
	return &MoireDetector{ops: ops, threshold: threshold}
}

func (m *MoireDetector) Detect(frame *models.Image) SubResult {
	gray := frame
	if frame.Channels > 1 {
		g, err := m.ops.Grayscale(frame)
		if err != nil {
			return notReady("grayscale failed: " + err.Error())
		}
		defer g.Close()
		gray = g
	}

	small := gray
	if gray.Width > moireMaxDim || gray.Height > moireMaxDim {
		w, h := gray.Width, gray.Height
		if w > moireMaxDim {
			h = h * moireMaxDim / w
			w = moireMaxDim
		}
		if h > moireMaxDim {
			w = w * moireMaxDim / h
			h = moireMaxDim
		}
		r, err := m.ops.Resize(gray, w, h)
		if err != nil {
			return notReady("resize failed: " + err.Error())
		}
		defer r.Close()
		small = r
	}

	highpass, err := m.ops.MorphGradient(small, 5)
	if err != nil {
		return notReady("morph gradient failed: " + err.Error())
	}
	defer highpass.Close()

	windowed, err := m.ops.ApplyHanningWindow(highpass)
	if err != nil {
		return notReady("hanning window failed: " + err.Error())
	}
	defer windowed.Close()

	dct, err := m.ops.DCT(windowed)
	if err != nil {
		return notReady("dct failed: " + err.Error())
	}
	defer dct.Close()

	grid, err := m.ops.ToFloat64Grid(dct)
	if err != nil {
		return notReady("dct readback failed: " + err.Error())
	}

	periodicity, directionality, peakCount := analyzeSpectrum(grid)
	dctLayer := 0.6*periodicity + 0.4*directionality

	edgePeriodicity, edgeDirection := m.cannyAux(small)
	edgeAux := 0.5 * (edgePeriodicity + edgeDirection)

	moireStrength := dctLayer*0.6 + edgeAux*0.4
	isScreen := moireStrength > m.threshold
	confidence := clamp01(math.Abs(moireStrength-m.threshold) / 0.35)

	return SubResult{
		Ready:           true,
		IsScreenCapture: isScreen,
		Confidence:      confidence,
		Details: map[string]any{
			"moireStrength":   moireStrength,
			"periodicity":     periodicity,
			"directionality":  directionality,
			"peakCount":       peakCount,
			"edgeAuxiliary":   edgeAux,
			"dctLayer":        dctLayer,
		},
	}
}

// analyzeSpectrum scans the AC band [1..64,1..64] of the DCT coefficient
// grid, counting peaks where |coef| > 2*mean(|coef|), and returns
// periodicity = min(peakCount/20,1) and directionality derived from the
// dispersion of peak radii (low dispersion ⇒ a strong ring at one spatial
// frequency ⇒ a periodic grid).
func analyzeSpectrum(grid [][]float64) (periodicity, directionality float64, peakCount int) {
	if len(grid) == 0 {
		return 0, 0, 0
	}
	maxU := moireACHigh
	if maxU >= len(grid) {
		maxU = len(grid) - 1
	}
	maxV := moireACHigh
	if len(grid) > 0 && maxV >= len(grid[0]) {
		maxV = len(grid[0]) - 1
	}

	var sum, count float64
	for u := moireACLow; u <= maxU; u++ {
		for v := moireACLow; v <= maxV; v++ {
			sum += math.Abs(grid[u][v])
			count++
		}
	}
	if count == 0 {
		return 0, 0, 0
	}
	mean := sum / count

	var radii []float64
	for u := moireACLow; u <= maxU; u++ {
		for v := moireACLow; v <= maxV; v++ {
			if math.Abs(grid[u][v]) > moirePeakMult*mean {
				radii = append(radii, math.Hypot(float64(u), float64(v)))
				peakCount++
			}
		}
	}

	periodicity = math.Min(float64(peakCount)/20.0, 1.0)

	if len(radii) > 0 {
		radMean, radStd := meanStd(radii)
		if radMean > 0 {
			directionality = math.Max(0, 1-radStd/radMean)
		}
	}
	return periodicity, directionality, peakCount
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
	std = math.Sqrt(sq / n)
	return mean, std
}

// cannyAux runs a Canny edge pass and derives a lightweight periodicity
// signal from the autocorrelation of per-row edge density (columns are not
// analysed), plus a direction-consistency signal 1 - std/(4·mean) over the
// Sobel gradient magnitude (gradient angles are not computed) — the auxiliary
// 0.4-weighted layer described in spec §4.4.1 step 6.
func (m *MoireDetector) cannyAux(gray *models.Image) (periodicity, direction float64) {
	edges, err := m.ops.Canny(gray, 50, 150)
	if err != nil {
		return 0, 0
	}
	defer edges.Close()

	grid, err := m.ops.ToFloat64Grid(edges)
	if err != nil {
		return 0, 0
	}
	if len(grid) == 0 {
		return 0, 0
	}

	rowDensities := make([]float64, len(grid))
	for y, row := range grid {
		var s float64
		for _, v := range row {
			if v > 0 {
				s++
			}
		}
		rowDensities[y] = s / float64(len(row))
	}
	periodicity = autocorrPeriodicity(rowDensities)

	sobel, err := m.ops.Sobel(gray, 3)
	if err == nil {
		defer sobel.Close()
		mean, std, err := m.ops.MeanStdDev(sobel)
		if err == nil && mean > 0 {
			direction = clamp01(1 - std/(mean*4))
		}
	}
	return periodicity, direction
}

// autocorrPeriodicity checks periods 5..min(len/4,100) step 2 for a
// normalized-autocorrelation peak, returning that peak in [0,1].
func autocorrPeriodicity(series []float64) float64 {
	n := len(series)
	if n < 10 {
		return 0
	}
	mean, std := meanStd(series)
	if std == 0 {
		return 0
	}
	variance := std * std

	maxPeriod := n / 4
	if maxPeriod > 100 {
		maxPeriod = 100
	}
	best := 0.0
	for k := 5; k <= maxPeriod; k += 2 {
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
		}
	}
	return clamp01(best)
}
