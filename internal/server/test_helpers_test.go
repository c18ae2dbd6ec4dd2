package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sketchbook/internal/config"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.GenerationTimeout = 2 * time.Second
	cfg.GenerationRetryDelay = time.Millisecond
	cfg.PingInterval = time.Second
	cfg.LivenessTimeout = 5 * time.Second
	cfg.SessionRateLimit = 0
	return cfg
}

type coordinatorFixture struct {
	store    *MemoryStore
	gateway  *Gateway
	coord    *Coordinator
	pipeline *stubPipeline
	roomID   uint
}

func newCoordinatorFixture(t *testing.T, maxSeats int) *coordinatorFixture {
	t.Helper()
	return newCoordinatorFixtureWith(t, maxSeats, nil)
}

// newCoordinatorFixtureWith lets wrap stand a different Storage in front of
// the fixture's memory store.
func newCoordinatorFixtureWith(t *testing.T, maxSeats int, wrap func(*MemoryStore) Storage) *coordinatorFixture {
	t.Helper()
	store := NewMemoryStore()
	var backing Storage = store
	if wrap != nil {
		backing = wrap(store)
	}
	gateway := NewGateway()
	pipeline := newStubPipeline()
	coord := NewCoordinator(NewDirectory(backing, maxSeats), backing, gateway, pipeline, 4)
	t.Cleanup(coord.Close)
	room, err := coord.CreateRoom(context.Background())
	require.NoError(t, err)
	return &coordinatorFixture{
		store:    store,
		gateway:  gateway,
		coord:    coord,
		pipeline: pipeline,
		roomID:   room.ID,
	}
}

func (f *coordinatorFixture) join(t *testing.T, n int) []*recordingMember {
	t.Helper()
	members := make([]*recordingMember, 0, n)
	for i := 0; i < n; i++ {
		m := &recordingMember{}
		_, err := f.coord.Join(context.Background(), f.roomID, m)
		require.NoError(t, err)
		members = append(members, m)
	}
	return members
}
