package models

// Image is a 2D matrix of samples owned by exactly one caller at a time.
// It is produced by imageops.Ops and must be released (Close) on every
// exit path of the function that acquired it, unless ownership is
// explicitly transferred into a FrameRecord (collector.Add takes ownership
// of the images it is given).
type Image struct {
	Width    int
	Height   int
	Channels int
	Depth    ImageDepth

	// handle is the backing native resource (e.g. a gocv.Mat) held behind
	// an opaque interface so models never import imageops directly.
	handle ImageHandle
}

// ImageDepth distinguishes 8-bit pixel images from 32- and 64-bit float images
// (used for DCT/Laplacian intermediate results).
type ImageDepth int

const (
	Depth8U ImageDepth = iota
	Depth32F
	Depth64F
)

// ImageHandle is implemented by the concrete backing resource. Close must
// be idempotent: a second call after release is a no-op.
type ImageHandle interface {
	Close() error
	Empty() bool
}

// NewImage wraps a backing handle. Width/height/channels describe the
// logical shape; depth describes sample representation.
func NewImage(handle ImageHandle, width, height, channels int, depth ImageDepth) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Depth:    depth,
		handle:   handle,
	}
}

// Handle returns the backing native resource for primitive operations that
// need to downcast it (imageops implementations only).
func (img *Image) Handle() ImageHandle {
	if img == nil {
		return nil
	}
	return img.handle
}

// Valid reports whether the image still owns a live backing resource.
func (img *Image) Valid() bool {
	return img != nil && img.handle != nil && !img.handle.Empty()
}

// Close releases the backing resource. Safe to call multiple times and on
// a nil Image.
func (img *Image) Close() {
	if img == nil || img.handle == nil {
		return
	}
	_ = img.handle.Close()
	img.handle = nil
}

// Box is an axis-aligned face bounding box in image pixel coordinates.
type Box struct {
	X, Y, W, H float64
}

// Area returns w*h, never negative.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Clip intersects the box with a width×height image and returns the
// clipped box (possibly zero area).
func (b Box) Clip(width, height int) Box {
	x1 := clampF(b.X, 0, float64(width))
	y1 := clampF(b.Y, 0, float64(height))
	x2 := clampF(b.X+b.W, 0, float64(width))
	y2 := clampF(b.Y+b.H, 0, float64(height))
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

func clampF(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
