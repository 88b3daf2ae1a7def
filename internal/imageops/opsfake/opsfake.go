// Package opsfake is a test double for imageops.Ops: every method defaults
// to a cheap, deterministic pass-through so pure business logic in the
// scorer/detector packages can be exercised without gocv, with any method
// overridable per test by setting the matching *Fn field.
package opsfake

import (
	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

type stubHandle struct{}

func (stubHandle) Close() error { return nil }
func (stubHandle) Empty() bool  { return false }

func newStub(width, height, channels int, depth models.ImageDepth) *models.Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return models.NewImage(stubHandle{}, width, height, channels, depth)
}

// Ops is the configurable fake. Fields left nil fall back to the
// pass-through default described per method below.
type Ops struct {
	FromBytesFn          func(data []byte) (*models.Image, error)
	GrayscaleFn          func(src *models.Image) (*models.Image, error)
	ResizeFn             func(src *models.Image, width, height int) (*models.Image, error)
	ROIFn                func(src *models.Image, box models.Box) (*models.Image, error)
	SobelFn              func(src *models.Image, ksize int) (*models.Image, error)
	LaplacianFn          func(src *models.Image) (*models.Image, error)
	CannyFn              func(src *models.Image, t1, t2 float64) (*models.Image, error)
	MorphGradientFn      func(src *models.Image, ksize int) (*models.Image, error)
	DCTFn                func(src *models.Image) (*models.Image, error)
	MeanStdDevFn         func(src *models.Image) (float64, float64, error)
	VarianceFn           func(src *models.Image) (float64, error)
	AtFn                 func(src *models.Image, x, y int) (float64, error)
	MeanRegionFn         func(src *models.Image, box models.Box) (float64, error)
	SplitChannelsFn      func(src *models.Image) (b, g, r *models.Image, err error)
	ToFloatFn            func(src *models.Image) (*models.Image, error)
	EncodeJPEGFn         func(src *models.Image, quality int) ([]byte, error)
	ApplyHanningWindowFn func(src *models.Image) (*models.Image, error)
	ToFloat64GridFn      func(src *models.Image) ([][]float64, error)
}

var _ imageops.Ops = (*Ops)(nil)

func (o *Ops) FromBytes(data []byte) (*models.Image, error) {
	if o.FromBytesFn != nil {
		return o.FromBytesFn(data)
	}
	return newStub(100, 100, 3, models.Depth8U), nil
}

func (o *Ops) Grayscale(src *models.Image) (*models.Image, error) {
	if o.GrayscaleFn != nil {
		return o.GrayscaleFn(src)
	}
	return newStub(src.Width, src.Height, 1, models.Depth8U), nil
}

func (o *Ops) Resize(src *models.Image, width, height int) (*models.Image, error) {
	if o.ResizeFn != nil {
		return o.ResizeFn(src, width, height)
	}
	return newStub(width, height, src.Channels, src.Depth), nil
}

func (o *Ops) ROI(src *models.Image, box models.Box) (*models.Image, error) {
	if o.ROIFn != nil {
		return o.ROIFn(src, box)
	}
	clipped := box.Clip(src.Width, src.Height)
	return newStub(int(clipped.W), int(clipped.H), src.Channels, src.Depth), nil
}

func (o *Ops) Sobel(src *models.Image, ksize int) (*models.Image, error) {
	if o.SobelFn != nil {
		return o.SobelFn(src, ksize)
	}
	return newStub(src.Width, src.Height, 1, models.Depth64F), nil
}

func (o *Ops) Laplacian(src *models.Image) (*models.Image, error) {
	if o.LaplacianFn != nil {
		return o.LaplacianFn(src)
	}
	return newStub(src.Width, src.Height, 1, models.Depth64F), nil
}

func (o *Ops) Canny(src *models.Image, t1, t2 float64) (*models.Image, error) {
	if o.CannyFn != nil {
		return o.CannyFn(src, t1, t2)
	}
	return newStub(src.Width, src.Height, 1, models.Depth8U), nil
}

func (o *Ops) MorphGradient(src *models.Image, ksize int) (*models.Image, error) {
	if o.MorphGradientFn != nil {
		return o.MorphGradientFn(src, ksize)
	}
	return newStub(src.Width, src.Height, src.Channels, src.Depth), nil
}

func (o *Ops) DCT(src *models.Image) (*models.Image, error) {
	if o.DCTFn != nil {
		return o.DCTFn(src)
	}
	return newStub(src.Width, src.Height, 1, models.Depth64F), nil
}

func (o *Ops) MeanStdDev(src *models.Image) (float64, float64, error) {
	if o.MeanStdDevFn != nil {
		return o.MeanStdDevFn(src)
	}
	return 0, 0, nil
}

func (o *Ops) Variance(src *models.Image) (float64, error) {
	if o.VarianceFn != nil {
		return o.VarianceFn(src)
	}
	return 0, nil
}

func (o *Ops) At(src *models.Image, x, y int) (float64, error) {
	if o.AtFn != nil {
		return o.AtFn(src, x, y)
	}
	return 0, nil
}

func (o *Ops) MeanRegion(src *models.Image, box models.Box) (float64, error) {
	if o.MeanRegionFn != nil {
		return o.MeanRegionFn(src, box)
	}
	return 0, nil
}

func (o *Ops) SplitChannels(src *models.Image) (b, g, r *models.Image, err error) {
	if o.SplitChannelsFn != nil {
		return o.SplitChannelsFn(src)
	}
	single := newStub(src.Width, src.Height, 1, src.Depth)
	return single, single, single, nil
}

func (o *Ops) ToFloat(src *models.Image) (*models.Image, error) {
	if o.ToFloatFn != nil {
		return o.ToFloatFn(src)
	}
	return newStub(src.Width, src.Height, src.Channels, models.Depth32F), nil
}

func (o *Ops) EncodeJPEG(src *models.Image, quality int) ([]byte, error) {
	if o.EncodeJPEGFn != nil {
		return o.EncodeJPEGFn(src, quality)
	}
	return []byte{}, nil
}

func (o *Ops) ApplyHanningWindow(src *models.Image) (*models.Image, error) {
	if o.ApplyHanningWindowFn != nil {
		return o.ApplyHanningWindowFn(src)
	}
	return newStub(src.Width, src.Height, src.Channels, src.Depth), nil
}

func (o *Ops) ToFloat64Grid(src *models.Image) ([][]float64, error) {
	if o.ToFloat64GridFn != nil {
		return o.ToFloat64GridFn(src)
	}
	grid := make([][]float64, src.Height)
	for i := range grid {
		grid[i] = make([]float64, src.Width)
	}
	return grid, nil
}
