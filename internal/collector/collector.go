// Package collector implements the fixed-capacity FIFO ring buffer of
// recent frames that every scorer and detector reads from. It owns every
// *models.Image it retains and releases them on eviction or reset,
// mirroring the Image ownership discipline the rest of this repository
// follows (see internal/models.Image).
package collector

import (
	"math/rand"
	"sync"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// maxFPSWindow bounds how many timestamps feed the rolling fps estimate,
// independent of how large bufferSize is configured.
const maxFPSWindow = 30

// Config controls ring capacity and synthetic frame-drop behaviour used to
// exercise jitter handling during replay testing.
type Config struct {
	BufferSize int
	// DropRate in [0,1): probability that add() rejects an otherwise valid
	// frame, simulating camera jitter.
	DropRate float64
}

// Collector is a single-owner ring of FrameRecords. It is not safe for
// concurrent use by more than one goroutine without external
// synchronization, matching the single-threaded cooperative loop the rest
// of the engine assumes (spec §5); the internal mutex exists only to guard
// against accidental concurrent reads (e.g. a metrics exporter) racing the
// detection loop's writes.
type Collector struct {
	mu     sync.Mutex
	cfg    Config
	frames []models.FrameRecord

	width, height int

	droppedCount int64
	totalCount   int64

	rng *rand.Rand
}

// New builds a Collector. A nil-safe default rng is seeded from a fixed
// value so drop behaviour is reproducible in tests; callers that need
// non-deterministic jitter should reseed with SetRandSource.
func New(cfg Config) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	return &Collector{
		cfg: cfg,
		rng: rand.New(rand.NewSource(1)),
	}
}

// SetRandSource overrides the drop-rate RNG, primarily for tests that need
// to force or suppress drops deterministically.
func (c *Collector) SetRandSource(rng *rand.Rand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng = rng
}

// Add pushes a new frame. It returns accepted=false (and releases the
// supplied images, since the caller no longer owns them once handed to
// Add) when the configured drop rate fires. A change in frame dimensions
// relative to the first-seen frame triggers a full Reset before the new
// frame is accepted, per spec: "subsequent frames of differing size cause
// a full reset."
func (c *Collector) Add(gray, color *models.Image, timestampMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCount++

	if c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate {
		c.droppedCount++
		gray.Close()
		if color != nil {
			color.Close()
		}
		return false
	}

	if len(c.frames) == 0 && c.width == 0 && c.height == 0 {
		c.width, c.height = gray.Width, gray.Height
	} else if gray.Width != c.width || gray.Height != c.height {
		c.resetLocked()
		c.width, c.height = gray.Width, gray.Height
	}

	if len(c.frames) >= c.cfg.BufferSize {
		c.frames[0].Release()
		c.frames = c.frames[1:]
	}
	c.frames = append(c.frames, models.FrameRecord{TimestampMs: timestampMs, Gray: gray, Color: color})
	return true
}

// GetGrayFrames returns the oldest-first grayscale images among the most
// recently buffered n frames. The returned slice length is
// min(n, buffered); the collector retains ownership — callers must not
// Close the returned images.
func (c *Collector) GetGrayFrames(n int) []*models.Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || len(c.frames) == 0 {
		return nil
	}
	if n > len(c.frames) {
		n = len(c.frames)
	}
	start := len(c.frames) - n
	out := make([]*models.Image, n)
	for i := 0; i < n; i++ {
		out[i] = c.frames[start+i].Gray
	}
	return out
}

// Frames returns the full buffered set of FrameRecords, oldest first, for
// detectors (photo-attack, screen-attack) that need both channels or
// timestamps. Ownership is retained by the collector.
func (c *Collector) Frames() []models.FrameRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.FrameRecord, len(c.frames))
	copy(out, c.frames)
	return out
}

// AverageFPS returns 0 until at least two frames have been buffered, then
// the mean frame rate over the last min(bufferSize, maxFPSWindow)
// timestamps.
func (c *Collector) AverageFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) < 2 {
		return 0
	}
	window := c.cfg.BufferSize
	if window > maxFPSWindow {
		window = maxFPSWindow
	}
	if window > len(c.frames) {
		window = len(c.frames)
	}
	start := len(c.frames) - window
	first := c.frames[start].TimestampMs
	last := c.frames[len(c.frames)-1].TimestampMs
	elapsedMs := last - first
	if elapsedMs <= 0 {
		return 0
	}
	frameCount := float64(window - 1)
	return frameCount * 1000 / float64(elapsedMs)
}

// Width and Height report the dimensions sampled from the first buffered
// frame (0 until any frame has been added).
func (c *Collector) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

func (c *Collector) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// FrameDropStats returns the lifetime dropped and total frame counts
// (dropped frames included in total).
func (c *Collector) FrameDropStats() (dropped, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedCount, c.totalCount
}

// Len reports how many frames are currently buffered.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Reset releases every retained frame and clears fps/dimension history.
// Lifetime drop/total counters are not cleared — they describe session
// throughput, not buffer contents.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Collector) resetLocked() {
	for i := range c.frames {
		c.frames[i].Release()
	}
	c.frames = nil
	c.width, c.height = 0, 0
}
