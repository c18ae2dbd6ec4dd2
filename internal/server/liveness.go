package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Monitor sends an application-level ping every interval and calls expire
// once when nothing has touched it for longer than timeout. After Stop
// returns neither callback runs again.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	ping     func()
	expire   func()

	last atomic.Int64

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

func NewMonitor(interval, timeout time.Duration, ping, expire func()) *Monitor {
	m := &Monitor{
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		expire:   expire,
		stop:     make(chan struct{}),
	}
	m.Touch()
	return m
}

// Touch records inbound activity.
func (m *Monitor) Touch() {
	m.last.Store(time.Now().UnixNano())
}

func (m *Monitor) Idle() time.Duration {
	return time.Since(time.Unix(0, m.last.Load()))
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.tick() {
				return
			}
		}
	}
}

func (m *Monitor) tick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	if m.Idle() > m.timeout {
		m.stopped = true
		close(m.stop)
		if m.expire != nil {
			go m.expire()
		}
		return false
	}
	if m.ping != nil {
		m.ping()
	}
	return true
}

// Stop is idempotent and safe to call before Run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stop)
}
