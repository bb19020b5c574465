package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/cezamee/plasmakernel/internal/config"
	"github.com/cezamee/plasmakernel/internal/kernel"
	"github.com/cezamee/plasmakernel/internal/netstack"
)

func TestLoadBeforeAnyPublishReturnsEmptySnapshot(t *testing.T) {
	p := NewPublisher()
	snap := p.Load()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Threads)
	assert.Empty(t, snap.Sockets)
}

func TestPublishCapturesThreadsAndPoolGauge(t *testing.T) {
	k := kernel.New(1)
	done := make(chan struct{})
	k.NewThread("worker", 1, -1, func(t *kernel.Thread) { <-done }, nil)
	k.Start()

	cfg := cfgpkg.Default()
	cfg.Pool.FrameCount = 8
	s := netstack.New(k, cfg, nil)

	p := NewPublisher()
	p.Publish(k, s)
	close(done)

	snap := p.Load()
	require.Len(t, snap.Threads, 1)
	assert.Equal(t, "worker", snap.Threads[0].Name)
	assert.Equal(t, 8, snap.Pool.Total)
	assert.Equal(t, 8, snap.Pool.Free)
}

func TestPublishOverwritesPreviousSnapshotAtomically(t *testing.T) {
	k := kernel.New(1)
	cfg := cfgpkg.Default()
	s := netstack.New(k, cfg, nil)

	p := NewPublisher()
	p.Publish(k, s)
	first := p.Load()

	done := make(chan struct{})
	k.NewThread("second", 1, -1, func(t *kernel.Thread) { <-done }, nil)
	k.Start()
	p.Publish(k, s)
	close(done)
	second := p.Load()

	assert.Len(t, first.Threads, 0)
	assert.Len(t, second.Threads, 1)
}
