package imageops

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// matHandle adapts a gocv.Mat to models.ImageHandle so the rest of the
// codebase never imports gocv directly.
type matHandle struct {
	mat gocv.Mat
}

func (h *matHandle) Close() error {
	return h.mat.Close()
}

func (h *matHandle) Empty() bool {
	return h.mat.Empty()
}

func wrap(mat gocv.Mat, depth models.ImageDepth) *models.Image {
	return models.NewImage(&matHandle{mat: mat}, mat.Cols(), mat.Rows(), mat.Channels(), depth)
}

// matOf downcasts a *models.Image back to its backing gocv.Mat. Every
// gocvOps method calls this on its own output from a prior call, so the
// downcast is always safe in practice; a mismatched handle indicates a
// caller passed an Image from a different Ops implementation, which is a
// programmer error worth surfacing immediately.
func matOf(img *models.Image) (gocv.Mat, error) {
	if !img.Valid() {
		return gocv.Mat{}, fmt.Errorf("imageops: image has no backing resource")
	}
	h, ok := img.Handle().(*matHandle)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("imageops: image not backed by gocv")
	}
	return h.mat, nil
}

type gocvOps struct {
	cfg Config
}

func (o *gocvOps) FromBytes(data []byte) (*models.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("imageops: decode: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("imageops: decode produced empty image")
	}
	return wrap(mat, models.Depth8U), nil
}

func (o *gocvOps) Grayscale(src *models.Image) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	code := gocv.ColorBGRToGray
	if src.Channels == 1 {
		s.CopyTo(&dst)
		return wrap(dst, src.Depth), nil
	}
	gocv.CvtColor(s, &dst, code)
	return wrap(dst, models.Depth8U), nil
}

func (o *gocvOps) Resize(src *models.Image, width, height int) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.Resize(s, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	return wrap(dst, src.Depth), nil
}

func (o *gocvOps) ROI(src *models.Image, box models.Box) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	clipped := box.Clip(src.Width, src.Height)
	if clipped.Area() <= 0 {
		return nil, fmt.Errorf("imageops: ROI box clips to empty region")
	}
	rect := image.Rect(int(clipped.X), int(clipped.Y), int(clipped.X+clipped.W), int(clipped.Y+clipped.H))
	region := s.Region(rect)
	dst := gocv.NewMat()
	region.CopyTo(&dst)
	region.Close()
	return wrap(dst, src.Depth), nil
}

func (o *gocvOps) Sobel(src *models.Image, ksize int) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	gray := s
	closeGray := false
	if src.Channels != 1 {
		g := gocv.NewMat()
		gocv.CvtColor(s, &g, gocv.ColorBGRToGray)
		gray = g
		closeGray = true
	}
	dx := gocv.NewMat()
	dy := gocv.NewMat()
	gocv.Sobel(gray, &dx, gocv.MatTypeCV64F, 1, 0, ksize, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &dy, gocv.MatTypeCV64F, 0, 1, ksize, 1, 0, gocv.BorderDefault)
	if closeGray {
		gray.Close()
	}

	mag := gocv.NewMat()
	gocv.Magnitude(dx, dy, &mag)
	dx.Close()
	dy.Close()
	return wrap(mag, models.Depth64F), nil
}

func (o *gocvOps) Laplacian(src *models.Image) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	gray := s
	closeGray := false
	if src.Channels != 1 {
		g := gocv.NewMat()
		gocv.CvtColor(s, &g, gocv.ColorBGRToGray)
		gray = g
		closeGray = true
	}
	dst := gocv.NewMat()
	gocv.Laplacian(gray, &dst, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	if closeGray {
		gray.Close()
	}
	return wrap(dst, models.Depth64F), nil
}

func (o *gocvOps) Canny(src *models.Image, t1, t2 float64) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	gray := s
	closeGray := false
	if src.Channels != 1 {
		g := gocv.NewMat()
		gocv.CvtColor(s, &g, gocv.ColorBGRToGray)
		gray = g
		closeGray = true
	}
	dst := gocv.NewMat()
	gocv.Canny(gray, &dst, float32(t1), float32(t2))
	if closeGray {
		gray.Close()
	}
	return wrap(dst, models.Depth8U), nil
}

func (o *gocvOps) MorphGradient(src *models.Image, ksize int) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(ksize, ksize))
	defer kernel.Close()
	dst := gocv.NewMat()
	gocv.MorphologyEx(s, &dst, gocv.MorphGradient, kernel)
	return wrap(dst, src.Depth), nil
}

func (o *gocvOps) DCT(src *models.Image) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	// cv::dct requires an even-sized single-channel float matrix.
	f := gocv.NewMat()
	s.ConvertTo(&f, gocv.MatTypeCV32F)
	rows, cols := f.Rows(), f.Cols()
	padRows, padCols := rows+rows%2, cols+cols%2
	var padded gocv.Mat
	if padRows != rows || padCols != cols {
		padded = gocv.NewMatWithSize(padRows, padCols, gocv.MatTypeCV32F)
		padded.SetTo(gocv.NewScalar(0, 0, 0, 0))
		roi := padded.Region(image.Rect(0, 0, cols, rows))
		f.CopyTo(&roi)
		roi.Close()
		f.Close()
	} else {
		padded = f
	}
	dst := gocv.NewMat()
	gocv.DCT(padded, &dst, gocv.DftForward)
	padded.Close()
	return wrap(dst, models.Depth32F), nil
}

func (o *gocvOps) MeanStdDev(src *models.Image) (float64, float64, error) {
	s, err := matOf(src)
	if err != nil {
		return 0, 0, err
	}
	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(s, &mean, &stddev)
	m := mean.GetDoubleAt(0, 0)
	sd := stddev.GetDoubleAt(0, 0)
	return m, sd, nil
}

func (o *gocvOps) Variance(src *models.Image) (float64, error) {
	_, sd, err := o.MeanStdDev(src)
	if err != nil {
		return 0, err
	}
	return sd * sd, nil
}

func (o *gocvOps) At(src *models.Image, x, y int) (float64, error) {
	s, err := matOf(src)
	if err != nil {
		return 0, err
	}
	if x < 0 || y < 0 || x >= src.Width || y >= src.Height {
		return 0, fmt.Errorf("imageops: At(%d,%d) out of bounds %dx%d", x, y, src.Width, src.Height)
	}
	switch src.Depth {
	case models.Depth8U:
		return float64(s.GetUCharAt(y, x)), nil
	case models.Depth32F:
		return float64(s.GetFloatAt(y, x)), nil
	default:
		return s.GetDoubleAt(y, x), nil
	}
}

func (o *gocvOps) MeanRegion(src *models.Image, box models.Box) (float64, error) {
	s, err := matOf(src)
	if err != nil {
		return 0, err
	}
	clipped := box.Clip(src.Width, src.Height)
	if clipped.Area() <= 0 {
		return 0, fmt.Errorf("imageops: MeanRegion box clips to empty region")
	}
	rect := image.Rect(int(clipped.X), int(clipped.Y), int(clipped.X+clipped.W), int(clipped.Y+clipped.H))
	region := s.Region(rect)
	defer region.Close()
	scalar := gocv.NewMat()
	defer scalar.Close()
	mean := region.Mean()
	return mean.Val1, nil
}

func (o *gocvOps) SplitChannels(src *models.Image) (*models.Image, *models.Image, *models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, nil, nil, err
	}
	if src.Channels != 3 {
		return nil, nil, nil, fmt.Errorf("imageops: SplitChannels requires 3 channels, got %d", src.Channels)
	}
	chans := gocv.Split(s)
	if len(chans) != 3 {
		for _, c := range chans {
			c.Close()
		}
		return nil, nil, nil, fmt.Errorf("imageops: unexpected channel count %d", len(chans))
	}
	return wrap(chans[0], models.Depth8U), wrap(chans[1], models.Depth8U), wrap(chans[2], models.Depth8U), nil
}

func (o *gocvOps) ToFloat(src *models.Image) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	s.ConvertTo(&dst, gocv.MatTypeCV32F)
	return wrap(dst, models.Depth32F), nil
}

func (o *gocvOps) EncodeJPEG(src *models.Image, quality int) ([]byte, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncodeWithParams(".jpg", s, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("imageops: encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func (o *gocvOps) ApplyHanningWindow(src *models.Image) (*models.Image, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	if src.Channels != 1 {
		return nil, fmt.Errorf("imageops: ApplyHanningWindow requires single channel")
	}
	f := gocv.NewMat()
	s.ConvertTo(&f, gocv.MatTypeCV32F)

	wy := hannWindow(src.Height)
	wx := hannWindow(src.Width)
	window := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32F)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			window.SetFloatAt(y, x, float32(wy[y]*wx[x]))
		}
	}

	dst := gocv.NewMat()
	gocv.Multiply(f, window, &dst)
	f.Close()
	window.Close()
	return wrap(dst, models.Depth32F), nil
}

func (o *gocvOps) ToFloat64Grid(src *models.Image) ([][]float64, error) {
	s, err := matOf(src)
	if err != nil {
		return nil, err
	}
	if src.Channels != 1 {
		return nil, fmt.Errorf("imageops: ToFloat64Grid requires single channel")
	}
	grid := make([][]float64, src.Height)
	for y := 0; y < src.Height; y++ {
		row := make([]float64, src.Width)
		for x := 0; x < src.Width; x++ {
			switch src.Depth {
			case models.Depth8U:
				row[x] = float64(s.GetUCharAt(y, x))
			case models.Depth32F:
				row[x] = float64(s.GetFloatAt(y, x))
			default:
				row[x] = s.GetDoubleAt(y, x)
			}
		}
		grid[y] = row
	}
	return grid, nil
}

// hannWindow returns the 1D Hanning window of length n, per spec.md
// §4.4.1 step 3: w_k = 0.54 - 0.46*cos(2*pi*k/(n-1)).
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for k := 0; k < n; k++ {
		w[k] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(k)/float64(n-1))
	}
	return w
}
