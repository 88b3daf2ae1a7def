package screenattack

import (
	"math"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// ColorProfileDetector combines five statistical color/texture metrics
// that together characterize the flatter, more uniform color response of
// an emissive screen versus reflected skin/scene light (spec §4.4.3).
type ColorProfileDetector struct {
	ops       imageops.Ops
	threshold float64
}

func NewColorProfileDetector(ops imageops.Ops, threshold float64) *ColorProfileDetector {
	return &ColorProfileDetector{ops: ops, threshold: threshold}
}

func (d *ColorProfileDetector) Detect(frame *models.Image) SubResult {
	if frame.Channels < 3 {
		return notReady("color profile requires a color frame")
	}

	b, g, r, err := d.ops.SplitChannels(frame)
	if err != nil {
		return notReady("split channels failed: " + err.Error())
	}
	defer b.Close()
	defer g.Close()
	defer r.Close()

	bg, err := d.ops.ToFloat64Grid(b)
	if err != nil {
		return notReady(err.Error())
	}
	gg, err := d.ops.ToFloat64Grid(g)
	if err != nil {
		return notReady(err.Error())
	}
	rg, err := d.ops.ToFloat64Grid(r)
	if err != nil {
		return notReady(err.Error())
	}

	satScore := saturationScore(bg, gg, rg)
	corrScore := correlationScore(bg, gg, rg)

	gray, err := d.ops.Grayscale(frame)
	if err != nil {
		return notReady("grayscale failed: " + err.Error())
	}
	defer gray.Close()
	grayGrid, err := d.ops.ToFloat64Grid(gray)
	if err != nil {
		return notReady(err.Error())
	}
	entropyScore := entropyScoreFromGrid(grayGrid)

	lap, err := d.ops.Laplacian(gray)
	if err != nil {
		return notReady("laplacian failed: " + err.Error())
	}
	defer lap.Close()
	_, lapStd, err := d.ops.MeanStdDev(lap)
	if err != nil {
		return notReady(err.Error())
	}
	smoothnessScore := clamp01(1 - lapStd/50)

	sobel, err := d.ops.Sobel(gray, 3)
	if err != nil {
		return notReady("sobel failed: " + err.Error())
	}
	defer sobel.Close()
	sobelMean, sobelStd, err := d.ops.MeanStdDev(sobel)
	if err != nil {
		return notReady(err.Error())
	}
	uniformityScore := 1.0
	if sobelMean > 0 {
		uniformityScore = clamp01(1 - sobelStd/sobelMean)
	}

	weighted := 0.25*satScore + 0.25*corrScore + 0.20*entropyScore + 0.15*smoothnessScore + 0.15*uniformityScore
	isScreen := weighted >= d.threshold

	return SubResult{
		Ready:           true,
		IsScreenCapture: isScreen,
		Confidence:      clamp01(weighted),
		Details: map[string]any{
			"saturationScore": satScore,
			"correlationScore": corrScore,
			"entropyScore":    entropyScore,
			"smoothnessScore": smoothnessScore,
			"uniformityScore": uniformityScore,
			"weighted":        weighted,
		},
	}
}

// saturationScore approximates mean HSV saturation ((max-min)/max per
// pixel) from the three BGR grids directly, avoiding a dedicated HSV
// conversion kernel. Low saturation (<40%) raises the score, since flat
// screen color reproduction tends toward desaturation.
func saturationScore(b, g, r [][]float64) float64 {
	if len(b) == 0 {
		return 0
	}
	var sum float64
	var count float64
	for y := range b {
		for x := range b[y] {
			mx := math.Max(b[y][x], math.Max(g[y][x], r[y][x]))
			mn := math.Min(b[y][x], math.Min(g[y][x], r[y][x]))
			if mx > 0 {
				sum += (mx - mn) / mx
			}
			count++
		}
	}
	if count == 0 {
		return 0
	}
	meanSat := sum / count // in [0,1]
	if meanSat < 0.40 {
		return clamp01(1 - meanSat/0.40)
	}
	return 0
}

// correlationScore returns the mean pairwise Pearson correlation among the
// B, G, R channel grids, mapped so that correlation above 0.85 raises the
// score (tightly coupled channels suggest a synthetic/backlit source).
func correlationScore(b, g, r [][]float64) float64 {
	bf, gf, rf := flatten(b), flatten(g), flatten(r)
	bg := pearson(bf, gf)
	br := pearson(bf, rf)
	gr := pearson(gf, rf)
	mean := (bg + br + gr) / 3
	if mean > 0.85 {
		return clamp01((mean - 0.85) / 0.15)
	}
	return 0
}

func flatten(grid [][]float64) []float64 {
	if len(grid) == 0 {
		return nil
	}
	out := make([]float64, 0, len(grid)*len(grid[0]))
	for _, row := range grid {
		out = append(out, row...)
	}
	return out
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	meanA, _ := meanStd(a)
	meanB, _ := meanStd(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 || varB <= 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// entropyScoreFromGrid computes Shannon entropy (bits) of the 256-bin
// intensity histogram; entropy below 6.5 raises the score (a flatter,
// more compressed tonal range is typical of a rephotographed screen).
func entropyScoreFromGrid(grid [][]float64) float64 {
	var hist [256]int
	var total int
	for _, row := range grid {
		for _, v := range row {
			bin := int(v)
			if bin < 0 {
				bin = 0
			}
			if bin > 255 {
				bin = 255
			}
			hist[bin]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	if entropy < 6.5 {
		return clamp01(1 - entropy/6.5)
	}
	return 0
}
