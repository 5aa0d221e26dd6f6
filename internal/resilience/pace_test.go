package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_SpacesCalls(t *testing.T) {
	p := NewPacer(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
		p.Done()
	}
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestPacer_PauseCountsFromItemEnd(t *testing.T) {
	p := NewPacer(60 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx))
	// A slow item that outlasts the interval must not consume the pause.
	time.Sleep(80 * time.Millisecond)
	p.Done()

	end := time.Now()
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(end), 50*time.Millisecond)
}

func TestPacer_Disabled(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background()))
		p.Done()
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacer_Canceled(t *testing.T) {
	p := NewPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))
	p.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Wait(ctx))
}
