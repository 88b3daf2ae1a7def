package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sssxyd/face-liveness-detector/internal/imageops"
	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// decodedFrame pairs a decoded image with its offset from stream start.
type decodedFrame struct {
	img *models.Image
	ts  int64
}

// FFmpegFrameSource adapts an FFmpeg-decoded video file or stream URL into
// an engine.FrameSource, for cmd/liveness-replay's offline testing mode.
// Frames are decoded on a background goroutine and handed off through a
// bounded channel so a slow consumer applies backpressure to FFmpeg via the
// extraction callback rather than buffering unboundedly.
type FFmpegFrameSource struct {
	extractor *FFmpegExtractor
	frames    chan decodedFrame
	errCh     chan error
	startedAt time.Time
}

// NewFFmpegFrameSource starts extracting JPEG frames from sourceURL (a file
// path, RTSP/HTTP URL, or a URL already resolved by ResolveYouTubeURL) at
// fps, decoding each into a *models.Image via ops.
func NewFFmpegFrameSource(ctx context.Context, ops imageops.Ops, sourceURL string, fps, width int) *FFmpegFrameSource {
	fs := &FFmpegFrameSource{
		extractor: &FFmpegExtractor{},
		frames:    make(chan decodedFrame, 8),
		errCh:     make(chan error, 1),
		startedAt: time.Now(),
	}

	go func() {
		defer close(fs.frames)
		err := fs.extractor.StartExtraction(ctx, sourceURL, fps, width, func(frameData []byte) error {
			img, decodeErr := ops.FromBytes(frameData)
			if decodeErr != nil {
				slog.Warn("decode extracted frame", "error", decodeErr)
				return nil
			}
			select {
			case fs.frames <- decodedFrame{img: img, ts: time.Since(fs.startedAt).Milliseconds()}:
				return nil
			case <-ctx.Done():
				img.Close()
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			select {
			case fs.errCh <- err:
			default:
			}
		}
	}()

	return fs
}

// NextFrame implements engine.FrameSource.
func (fs *FFmpegFrameSource) NextFrame(ctx context.Context) (*models.Image, int64, error) {
	select {
	case f, ok := <-fs.frames:
		if !ok {
			return nil, 0, io.EOF
		}
		return f.img, f.ts, nil
	case err := <-fs.errCh:
		return nil, 0, fmt.Errorf("ffmpeg extraction: %w", err)
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Close stops the underlying FFmpeg process. Safe to call after the stream
// has already ended.
func (fs *FFmpegFrameSource) Close() {
	fs.extractor.Stop()
}
