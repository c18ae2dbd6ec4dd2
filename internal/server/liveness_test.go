package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorPingsWhileTouched(t *testing.T) {
	var pings, expiries atomic.Int32
	m := NewMonitor(10*time.Millisecond, time.Second, func() { pings.Add(1) }, func() { expiries.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return pings.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, expiries.Load())
}

func TestMonitorExpiresOnceWhenIdle(t *testing.T) {
	var expiries atomic.Int32
	m := NewMonitor(5*time.Millisecond, 20*time.Millisecond, nil, func() { expiries.Add(1) })
	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return expiries.Load() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after expiry")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), expiries.Load())
	m.Stop()
}

func TestMonitorTouchDefersExpiry(t *testing.T) {
	var expiries atomic.Int32
	m := NewMonitor(5*time.Millisecond, 40*time.Millisecond, nil, func() { expiries.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Touch()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Zero(t, expiries.Load())
	assert.Less(t, m.Idle(), 40*time.Millisecond)
}

func TestMonitorStopSilencesCallbacks(t *testing.T) {
	var pings, expiries atomic.Int32
	m := NewMonitor(5*time.Millisecond, 10*time.Millisecond, func() { pings.Add(1) }, func() { expiries.Add(1) })
	m.Stop()
	m.Stop()

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run kept going after Stop")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, pings.Load())
	assert.Zero(t, expiries.Load())
}
