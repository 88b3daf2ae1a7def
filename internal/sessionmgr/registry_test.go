package sessionmgr

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sssxyd/face-liveness-detector/internal/engine"
)

func TestRegistryRegisterAndCount(t *testing.T) {
	r := New()
	id := uuid.New()

	r.Register(id, engine.New(engine.Config{}))

	require.Equal(t, 1, r.Count())
}

func TestRegistryStopUnknownSessionReturnsFalse(t *testing.T) {
	r := New()

	require.False(t, r.Stop(uuid.New(), true))
}

func TestRegistryStopKnownSessionReturnsTrue(t *testing.T) {
	r := New()
	id := uuid.New()
	r.Register(id, engine.New(engine.Config{}))

	require.True(t, r.Stop(id, true))
}

func TestRegistryUnregisterRemovesSession(t *testing.T) {
	r := New()
	id := uuid.New()
	r.Register(id, engine.New(engine.Config{}))

	r.Unregister(id)

	require.Equal(t, 0, r.Count())
	require.False(t, r.Stop(id, true))
}
