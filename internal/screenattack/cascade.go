package screenattack

import (
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// CascadeResult is the aggregate cascade verdict.
type CascadeResult struct {
	IsScreenCapture bool
	Confidence      float64
	RiskLevel       RiskLevel
	Mode            Mode
	SubResults      map[string]SubResult
}

// Cascade coordinates the seven sub-detectors per the configured
// orchestration mode (spec §4.4.8).
type Cascade struct {
	cfg Config

	moire        *MoireDetector
	rgbEmission  *RGBEmissionDetector
	colorProfile *ColorProfileDetector
	flicker      *FlickerDetector
	responseTime *ResponseTimeDetector
	dlp          *DLPColorWheelDetector
	optical      *OpticalDistortionDetector
}

func NewCascade(ops imageops.Ops, cfg Config) *Cascade {
	return &Cascade{
		cfg:          cfg,
		moire:        NewMoireDetector(ops, cfg.MoireThreshold),
		rgbEmission:  NewRGBEmissionDetector(ops, cfg.RGBEmissionThreshold),
		colorProfile: NewColorProfileDetector(ops, cfg.ColorProfileThreshold),
		flicker:      NewFlickerDetector(ops, cfg.FlickerCorrelationThreshold, cfg.FlickerPassingRatioMin, cfg.FlickerMaxPeriodConfigMax),
		responseTime: NewResponseTimeDetector(ops, cfg.ResponseTimeThresholdMs, cfg.ResponseTimeFraction),
		dlp:          NewDLPColorWheelDetector(ops, cfg.DLPSeparationPixels),
		optical:      NewOpticalDistortionDetector(ops, cfg.OpticalCompositeThreshold),
	}
}

// Evaluate runs the configured mode against the current frame and the
// buffered history (gray+color FrameRecords, oldest first) plus fps.
func (c *Cascade) Evaluate(frame *models.Image, history []models.FrameRecord, fps float64) CascadeResult {
	switch c.cfg.Mode {
	case ModeFastest:
		return c.fastest(frame)
	case ModeFast:
		return c.fast(frame)
	case ModeAccurate:
		return c.accurate(frame)
	case ModeTemporal:
		return c.temporal(history, fps)
	default:
		return c.adaptive(frame)
	}
}

func (c *Cascade) fastest(frame *models.Image) CascadeResult {
	rgb := c.rgbEmission.Detect(frame)
	return CascadeResult{
		IsScreenCapture: rgb.Ready && rgb.IsScreenCapture,
		Confidence:      rgb.Confidence,
		RiskLevel:        riskFromFireCount(boolToInt(rgb.Ready && rgb.IsScreenCapture), 1),
		Mode:            ModeFastest,
		SubResults:      map[string]SubResult{"rgbEmission": rgb},
	}
}

func (c *Cascade) fast(frame *models.Image) CascadeResult {
	rgb := c.rgbEmission.Detect(frame)
	color := c.colorProfile.Detect(frame)
	subs := map[string]SubResult{"rgbEmission": rgb, "colorProfile": color}

	fires := (rgb.Ready && rgb.IsScreenCapture) || (color.Ready && color.IsScreenCapture)
	avgConf := avgConfidence(rgb, color)
	isScreen := fires && avgConf > c.cfg.CascadeConfidenceThreshold

	return CascadeResult{
		IsScreenCapture: isScreen,
		Confidence:      avgConf,
		RiskLevel:       riskFromFireCount(fireCount(rgb, color), 2),
		Mode:            ModeFast,
		SubResults:      subs,
	}
}

func (c *Cascade) accurate(frame *models.Image) CascadeResult {
	rgb := c.rgbEmission.Detect(frame)
	color := c.colorProfile.Detect(frame)
	moire := c.moire.Detect(frame)
	subs := map[string]SubResult{"rgbEmission": rgb, "colorProfile": color, "moire": moire}

	fires := fireCount(rgb, color, moire)
	avgConf := avgConfidence(rgb, color, moire)
	isScreen := fires >= 2 && avgConf > c.cfg.CascadeConfidenceThreshold

	return CascadeResult{
		IsScreenCapture: isScreen,
		Confidence:      avgConf,
		RiskLevel:       riskFromFireCount(fires, 3),
		Mode:            ModeAccurate,
		SubResults:      subs,
	}
}

func (c *Cascade) adaptive(frame *models.Image) CascadeResult {
	subs := map[string]SubResult{}

	rgb := c.rgbEmission.Detect(frame)
	subs["rgbEmission"] = rgb
	if decisive(rgb.Confidence) {
		return CascadeResult{IsScreenCapture: rgb.IsScreenCapture, Confidence: rgb.Confidence, RiskLevel: riskFromFireCount(boolToInt(rgb.IsScreenCapture), 1), Mode: ModeAdaptive, SubResults: subs}
	}

	color := c.colorProfile.Detect(frame)
	subs["colorProfile"] = color
	if decisive(rgb.Confidence) && decisive(color.Confidence) {
		avgConf := avgConfidence(rgb, color)
		fires := fireCount(rgb, color)
		return CascadeResult{IsScreenCapture: fires > 0, Confidence: avgConf, RiskLevel: riskFromFireCount(fires, 2), Mode: ModeAdaptive, SubResults: subs}
	}

	moire := c.moire.Detect(frame)
	subs["moire"] = moire
	fires := fireCount(rgb, color, moire)
	avgConf := avgConfidence(rgb, color, moire)
	isScreen := fires >= 2

	return CascadeResult{IsScreenCapture: isScreen, Confidence: avgConf, RiskLevel: riskFromFireCount(fires, 3), Mode: ModeAdaptive, SubResults: subs}
}

// decisive reports whether a confidence value is extreme enough (>0.8 or
// <0.2) to early-exit the ADAPTIVE cascade.
func decisive(confidence float64) bool {
	return confidence > 0.8 || confidence < 0.2
}

func (c *Cascade) temporal(history []models.FrameRecord, fps float64) CascadeResult {
	subs := map[string]SubResult{}
	grayFrames := make([]*models.Image, len(history))
	var colorFrames []*models.Image
	for i, h := range history {
		grayFrames[i] = h.Gray
		if h.Color != nil {
			colorFrames = append(colorFrames, h.Color)
		}
	}

	type step struct {
		name      string
		required  int
		threshold float64
		run       func() SubResult
	}
	steps := []step{
		{"flicker", c.flicker.RequiredFrames(), 0.70, func() SubResult { return c.flicker.Detect(grayFrames, fps) }},
		{"responseTime", c.responseTime.RequiredFrames(), 0.65, func() SubResult { return c.responseTime.Detect(grayFrames, fps) }},
		{"dlpColorWheel", c.dlp.RequiredFrames(), 0.65, func() SubResult { return c.dlp.Detect(colorFrames, fps) }},
		{"opticalDistortion", c.optical.RequiredFrames(), 0.60, func() SubResult {
			if len(grayFrames) == 0 {
				return notReady("no frame available")
			}
			return c.optical.Detect(grayFrames[len(grayFrames)-1])
		}},
	}

	var readyConfidences []float64
	for _, st := range steps {
		if len(grayFrames) < st.required {
			subs[st.name] = notReady("insufficient buffered frames")
			continue
		}
		res := st.run()
		subs[st.name] = res
		if !res.Ready {
			continue
		}
		readyConfidences = append(readyConfidences, res.Confidence)
		if res.Confidence > st.threshold {
			return CascadeResult{IsScreenCapture: true, Confidence: res.Confidence, RiskLevel: RiskHigh, Mode: ModeTemporal, SubResults: subs}
		}
	}

	composite := 0.0
	for _, c := range readyConfidences {
		if c > composite {
			composite = c
		}
	}
	isScreen := composite > 0.50

	return CascadeResult{IsScreenCapture: isScreen, Confidence: composite, RiskLevel: riskFromComposite(composite), Mode: ModeTemporal, SubResults: subs}
}

func avgConfidence(results ...SubResult) float64 {
	var sum float64
	var count int
	for _, r := range results {
		if r.Ready {
			sum += r.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func fireCount(results ...SubResult) int {
	n := 0
	for _, r := range results {
		if r.Ready && r.IsScreenCapture {
			n++
		}
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func riskFromFireCount(fires, total int) RiskLevel {
	switch {
	case fires >= (total*2+2)/3: // roughly ceil(2/3 of total)
		return RiskHigh
	case fires > 0:
		return RiskMedium
	default:
		return RiskLow
	}
}

func riskFromComposite(composite float64) RiskLevel {
	switch {
	case composite > 0.70:
		return RiskHigh
	case composite > 0.40:
		return RiskMedium
	default:
		return RiskLow
	}
}
