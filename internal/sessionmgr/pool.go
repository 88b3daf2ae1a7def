package sessionmgr

import (
	"context"
	"fmt"

	"github.com/sssxyd/face-liveness-detector/internal/engine"
)

// Pool hands out pre-initialized engines so a new WebSocket connection
// never pays ONNX model load latency on the hot path. Each Engine supports
// sequential StartDetection/StopDetection cycles (spec.md §6), so a
// returned engine goes straight back into the free list rather than being
// torn down.
type Pool struct {
	cfg  engine.Config
	free chan *engine.Engine
	size int
}

// NewPool pre-initializes size engines against cfg. Initialization happens
// eagerly so a capacity shortfall is discovered at startup, not mid-session.
func NewPool(ctx context.Context, cfg engine.Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{cfg: cfg, free: make(chan *engine.Engine, size), size: size}
	for i := 0; i < size; i++ {
		e := engine.New(cfg)
		if err := e.Initialize(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("initialize engine %d/%d: %w", i+1, size, err)
		}
		p.free <- e
	}
	return p, nil
}

// Acquire blocks until an engine is free or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*engine.Engine, error) {
	select {
	case e := <-p.free:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns e to the pool for the next session. e must have already
// returned from StartDetection (StopDetection called or the loop ended).
func (p *Pool) Release(e *engine.Engine) {
	select {
	case p.free <- e:
	default:
		// Pool overfull (should not happen with correct Acquire/Release
		// pairing) — drop the reference rather than leak a goroutine
		// blocking on a full channel.
	}
}

// Close releases every engine's native resources. Call during shutdown
// only, after all sessions have stopped.
func (p *Pool) Close() {
	for {
		select {
		case e := <-p.free:
			e.Close()
		default:
			return
		}
	}
}
