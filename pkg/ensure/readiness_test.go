package ensure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessGateTransitions(t *testing.T) {
	var seen []ReadinessState
	g := newReadinessGate(func(s ReadinessState) { seen = append(seen, s) })

	assert.Equal(t, StateUninitialized, g.State())
	assert.Equal(t, ErrStatusNotInitialized, g.reset())

	epoch, err := g.begin()
	require.NoError(t, err)
	_, err = g.begin()
	assert.Equal(t, ErrStatusAlreadyInitialized, err)

	assert.True(t, g.ready(epoch))
	assert.False(t, g.ready(epoch))
	assert.False(t, g.fail(epoch, ErrStatusUnknown))
	assert.NoError(t, g.wait(context.Background(), false))

	require.NoError(t, g.reset())
	assert.Equal(t, []ReadinessState{StateInitializing, StateReady, StateUninitialized}, seen)
}

func TestReadinessGateIgnoresStaleEpoch(t *testing.T) {
	g := newReadinessGate(nil)
	old, err := g.begin()
	require.NoError(t, err)
	require.NoError(t, g.reset())

	current, err := g.begin()
	require.NoError(t, err)
	assert.False(t, g.ready(old))
	assert.Equal(t, StateInitializing, g.State())
	assert.True(t, g.ready(current))
}

func TestReadinessGateFailure(t *testing.T) {
	g := newReadinessGate(nil)
	epoch, err := g.begin()
	require.NoError(t, err)

	require.True(t, g.fail(epoch, ErrStatusUnknown))
	assert.Equal(t, StateFailed, g.State())
	assert.Equal(t, ErrStatusUnknown, g.wait(context.Background(), false))
}

func TestReadinessGateWaitDeadline(t *testing.T) {
	tests := []struct {
		name          string
		failOnTimeout bool
		wantState     ReadinessState
	}{
		{"keeps initializing", false, StateInitializing},
		{"fails on timeout", true, StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newReadinessGate(nil)
			_, err := g.begin()
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			assert.Equal(t, ErrStatusTimeout, g.wait(ctx, tt.failOnTimeout))
			assert.Equal(t, tt.wantState, g.State())
		})
	}
}

func TestReadinessStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "unknown", ReadinessState(42).String())
}
