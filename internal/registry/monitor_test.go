// ABOUTME: Tests for the heartbeat monitor loop and its re-entry guard
// ABOUTME: Covers staged decay across sweeps and overlap protection

package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SweepAppliesStagedDecay(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mon := NewMonitor(reg, time.Second, 30*time.Second, 2, slog.New(slog.DiscardHandler))

	res, err := reg.Register("maya", nil, "", "")
	require.NoError(t, err)

	start := res.Agent.RegisteredAt

	trs := mon.Sweep(start.Add(time.Minute))
	require.Len(t, trs, 1)
	assert.Equal(t, StateDegraded, trs[0].To)

	trs = mon.Sweep(start.Add(2 * time.Minute))
	require.Len(t, trs, 1)
	assert.Equal(t, StateUnreachable, trs[0].To)
}

func TestMonitor_OverlapGuard(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mon := NewMonitor(reg, time.Second, 30*time.Second, 3, slog.New(slog.DiscardHandler))

	_, err := reg.Register("maya", nil, "", "")
	require.NoError(t, err)

	// Simulate a cycle still in flight
	mon.running.Store(true)
	trs := mon.Sweep(time.Now().Add(time.Hour))
	assert.Nil(t, trs)
	mon.running.Store(false)

	trs = mon.Sweep(time.Now().Add(time.Hour))
	assert.Len(t, trs, 1)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mon := NewMonitor(reg, 5*time.Millisecond, 30*time.Second, 3, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after context cancellation")
	}
}
