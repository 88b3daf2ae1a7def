// Package imageops provides the 2D image primitives and linear-algebra
// kernels that spec.md treats as an opaque "ImageOps" dependency: grayscale
// conversion, Sobel, DCT, Canny, resize, and ROI extraction. It is the one
// package in this repository that talks to gocv directly — every other
// package consumes *models.Image through the Ops interface below, so a
// future swap to a different backend touches only this package.
package imageops

import "github.com/sssxyd/face-liveness-detector/internal/models"

// Ops is the full surface the core detectors/scorers consume. Every method
// that returns a *models.Image returns a freshly allocated one that the
// caller must Close.
type Ops interface {
	// FromBytes decodes an encoded image (JPEG/PNG) into a 3-channel 8-bit
	// color image.
	FromBytes(data []byte) (*models.Image, error)
	// Grayscale converts a color image to single-channel 8-bit.
	Grayscale(src *models.Image) (*models.Image, error)
	// Resize scales src to exactly width×height.
	Resize(src *models.Image, width, height int) (*models.Image, error)
	// ROI extracts a sub-region; the box is clamped to the image bounds.
	ROI(src *models.Image, box models.Box) (*models.Image, error)
	// Sobel computes the gradient magnitude image (CV_64F) at the given
	// kernel size.
	Sobel(src *models.Image, ksize int) (*models.Image, error)
	// Laplacian computes the CV_64F Laplacian of src.
	Laplacian(src *models.Image) (*models.Image, error)
	// Canny computes binary edges with the given hysteresis thresholds.
	Canny(src *models.Image, t1, t2 float64) (*models.Image, error)
	// MorphGradient applies a morphological gradient with an elliptical
	// kernel of the given size (used by the moiré high-pass step).
	MorphGradient(src *models.Image, ksize int) (*models.Image, error)
	// DCT computes the 2D discrete cosine transform of a CV_32F/CV_64F
	// single-channel image.
	DCT(src *models.Image) (*models.Image, error)
	// MeanStdDev returns the per-image mean and standard deviation of the
	// (single-channel) pixel values.
	MeanStdDev(src *models.Image) (mean, stddev float64, err error)
	// Variance returns the population variance of pixel values — used for
	// Laplacian-variance sharpness.
	Variance(src *models.Image) (float64, error)
	// At returns the pixel value at (x,y) for a single-channel image as
	// float64, regardless of underlying depth.
	At(src *models.Image, x, y int) (float64, error)
	// MeanRegion returns the mean pixel value within a rectangular region.
	MeanRegion(src *models.Image, box models.Box) (float64, error)
	// SplitChannels splits a 3-channel color image into three single
	// channel images, in B,G,R order (OpenCV's native channel order).
	SplitChannels(src *models.Image) (b, g, r *models.Image, err error)
	// ToFloat converts an 8-bit image to CV_32F without scaling.
	ToFloat(src *models.Image) (*models.Image, error)
	// EncodeJPEG encodes src (color or gray) as a JPEG at the given quality
	// (0-100).
	EncodeJPEG(src *models.Image, quality int) ([]byte, error)
	// ApplyHanningWindow multiplies src element-wise by a separable 2D
	// Hanning window (spec.md §4.4.1 step 3); src must be single-channel.
	ApplyHanningWindow(src *models.Image) (*models.Image, error)
	// ToFloat64Grid reads a single-channel image into a plain [row][col]
	// float64 grid for frequency/statistical analysis that is easier to
	// express directly in Go than through further kernel calls.
	ToFloat64Grid(src *models.Image) ([][]float64, error)
}

// Config controls backend-specific tunables.
type Config struct {
	// UseCUDA requests a CUDA backend for any kernel that supports one
	// (Sobel/Canny DNN-style acceleration is not used by this package, so
	// this currently only affects future GPU-backed kernels); gocv falls
	// back to CPU automatically when CUDA is unavailable, mirroring the
	// pack's CUDA-then-CPU fallback convention.
	UseCUDA bool
}

// New returns the gocv-backed Ops implementation.
func New(cfg Config) Ops {
	return &gocvOps{cfg: cfg}
}
