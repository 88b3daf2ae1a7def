package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sssxyd/face-liveness-detector/internal/engine"
)

// NewPool initializes every engine eagerly against a models directory that
// doesn't exist, so construction is expected to fail fast rather than
// leave a partially built pool around.
func TestNewPoolFailsFastOnInitializeError(t *testing.T) {
	cfg := engine.Config{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, cfg, 2)

	require.Error(t, err)
	require.Nil(t, pool)
	require.Contains(t, err.Error(), "initialize engine")
}

func TestNewPoolDefaultsSizeToOne(t *testing.T) {
	cfg := engine.Config{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewPool(ctx, cfg, 0)

	// Still fails (no real models dir), but must fail against exactly one
	// attempted engine, not zero.
	require.Error(t, err)
	require.Contains(t, err.Error(), "engine 1/1")
}

func TestAcquireBlocksUntilContextCancelled(t *testing.T) {
	p := &Pool{free: make(chan *engine.Engine)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseDoesNotBlockWhenPoolFull(t *testing.T) {
	p := &Pool{free: make(chan *engine.Engine, 1)}
	e1 := engine.New(engine.Config{})
	e2 := engine.New(engine.Config{})

	p.Release(e1)
	require.NotPanics(t, func() { p.Release(e2) })
}

func TestCloseDrainsFreeEngines(t *testing.T) {
	p := &Pool{free: make(chan *engine.Engine, 2)}
	p.free <- engine.New(engine.Config{})
	p.free <- engine.New(engine.Config{})

	require.NotPanics(t, p.Close)
}
