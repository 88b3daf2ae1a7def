package faceanalyzer

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// Detection is a raw RetinaFace output: box, confidence, and 5 facial
// landmarks (eyes, nose, mouth corners), all in the original frame's pixel
// coordinates. This is the same shape the teacher's vision package used for
// its recognition pipeline; here it feeds the mesh approximation instead of
// an embedding-match pipeline.
type Detection struct {
	BBox       [4]float32
	Confidence float32
	Landmarks  [5][2]float32
}

// Detector runs RetinaFace face detection using ONNX Runtime. Grounded on
// the teacher's internal/vision/detect.go — same stride/anchor scheme and
// tensor lifecycle discipline, adapted to read from a *models.Image instead
// of a decoded image.Image.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// NewDetector loads det_10g.onnx from modelsDir.
func NewDetector(modelsDir string, threshold float32, intraOpThreads, interOpThreads int) (*Detector, error) {
	modelPath := filepath.Join(modelsDir, "det_10g.onnx")
	inputW, inputH := 640, 640

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if intraOpThreads > 0 {
		_ = opts.SetIntraOpNumThreads(intraOpThreads)
	}
	if interOpThreads > 0 {
		_ = opts.SetInterOpNumThreads(interOpThreads)
	}

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect preprocesses frame via the injected Ops and runs the ONNX model.
func (d *Detector) Detect(ops imageops.Ops, frame *models.Image) ([]Detection, error) {
	chw, err := preprocessCHW(ops, frame, d.inputW, d.inputH, 127.5, 128.0)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(frame.Width, frame.Height)
	return nms(detections, 0.4), nil
}

func (d *Detector) parseDetections(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)
						st := float32(stride)

						x1 := (anchorX - bboxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - bboxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + bboxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + bboxes[idx*4+3]*st) * scaleH

						x1 = clampF(x1, 0, float32(origW))
						y1 = clampF(y1, 0, float32(origH))
						x2 = clampF(x2, 0, float32(origW))
						y2 = clampF(y2, 0, float32(origH))

						var lm [5][2]float32
						for li := 0; li < 5; li++ {
							lm[li][0] = (anchorX + landmarks[idx*10+li*2]*st) * scaleW
							lm[li][1] = (anchorY + landmarks[idx*10+li*2+1]*st) * scaleH
						}

						detections = append(detections, Detection{
							BBox:       [4]float32{x1, y1, x2, y2},
							Confidence: score,
							Landmarks:  lm,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}
	var result []Detection
	for i, det := range detections {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// preprocessCHW resizes frame to w×h and returns CHW float32 data in RGB
// order (R plane first) normalized as (pixel-mean)/std, matching the teacher's
// imageToFloat32CHW contract but sourced from imageops instead of
// image.Image.
func preprocessCHW(ops imageops.Ops, frame *models.Image, w, h int, mean, std float32) ([]float32, error) {
	resized, err := ops.Resize(frame, w, h)
	if err != nil {
		return nil, err
	}
	defer resized.Close()

	b, g, r, err := ops.SplitChannels(resized)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	defer g.Close()
	defer r.Close()

	bg, err := ops.ToFloat64Grid(b)
	if err != nil {
		return nil, err
	}
	gg, err := ops.ToFloat64Grid(g)
	if err != nil {
		return nil, err
	}
	rg, err := ops.ToFloat64Grid(r)
	if err != nil {
		return nil, err
	}

	planeSize := w * h
	data := make([]float32, 3*planeSize)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			data[idx] = (float32(rg[y][x]) - mean) / std
			data[planeSize+idx] = (float32(gg[y][x]) - mean) / std
			data[2*planeSize+idx] = (float32(bg[y][x]) - mean) / std
		}
	}
	return data, nil
}
