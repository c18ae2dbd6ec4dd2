package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Conn ---

type MockConn struct {
	mock.Mock
}

func (m *MockConn) ReadMessage() ([]byte, error) {
	args := m.Called()
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockConn) WriteMessage(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockConn) CloseWith(code int, reason string) error {
	args := m.Called(code, reason)
	return args.Error(0)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeConn is an in-memory Conn. Frames pushed to in are read by the
// session; written frames are recorded.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	written   []Message
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed conn")
	default:
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	if c.closeCode == 0 {
		c.closeCode = code
	}
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	c.in <- payload
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, msg := range c.written {
		out = append(out, msg.Event)
	}
	return out
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// recordingMember stands in for a session in coordinator tests.
type recordingMember struct {
	mu     sync.Mutex
	seatID uint
	msgs   []Message
}

func (m *recordingMember) SeatID() uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seatID
}

func (m *recordingMember) Seated(seat Seat) {
	m.mu.Lock()
	m.seatID = seat.ID
	m.msgs = append(m.msgs, Message{Event: eventConnected, Data: connectedData{PlayerID: seat.ID}})
	m.mu.Unlock()
}

func (m *recordingMember) Enqueue(msg Message, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *recordingMember) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.msgs...)
}

func (m *recordingMember) events() []string {
	msgs := m.messages()
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Event)
	}
	return out
}

func (m *recordingMember) count(event string) int {
	n := 0
	for _, e := range m.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (m *recordingMember) last(event string) (Message, bool) {
	msgs := m.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event == event {
			return msgs[i], true
		}
	}
	return Message{}, false
}

func (m *recordingMember) waitFor(t *testing.T, event string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.count(event) >= count
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s, saw %v", count, event, m.events())
}

// stubPipeline resolves renders from a lookup instead of calling out.
type stubPipeline struct {
	mu      sync.Mutex
	titles  []string
	failing map[string]bool
	release chan struct{}
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{failing: make(map[string]bool)}
}

func (p *stubPipeline) Start(ctx context.Context, title string) *Future {
	p.mu.Lock()
	p.titles = append(p.titles, title)
	fail := p.failing[title]
	release := p.release
	p.mu.Unlock()

	f := newFuture()
	go func() {
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				f.resolve(Render{}, ctx.Err())
				return
			}
		}
		if fail {
			f.resolve(Render{}, errors.New("generation failed"))
			return
		}
		f.resolve(Render{Prompt: title, URL: "img://" + title}, nil)
	}()
	return f
}

func (p *stubPipeline) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.titles...)
}

var errStorageDown = errors.New("storage unavailable")

// flakyStore fails seat and topic listings on demand. A positive count fails
// that many calls, a negative one fails every call.
type flakyStore struct {
	*MemoryStore

	mu            sync.Mutex
	seatFailures  int
	topicFailures int
}

func (s *flakyStore) failSeats(n int) {
	s.mu.Lock()
	s.seatFailures = n
	s.mu.Unlock()
}

func (s *flakyStore) failTopics(n int) {
	s.mu.Lock()
	s.topicFailures = n
	s.mu.Unlock()
}

func (s *flakyStore) trip(counter *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *counter == 0 {
		return false
	}
	if *counter > 0 {
		*counter--
	}
	return true
}

func (s *flakyStore) ListLiveSeats(ctx context.Context, roomID uint) ([]Seat, error) {
	if s.trip(&s.seatFailures) {
		return nil, errStorageDown
	}
	return s.MemoryStore.ListLiveSeats(ctx, roomID)
}

func (s *flakyStore) ListRoundTopics(ctx context.Context, roomID uint, game, round int) ([]Topic, error) {
	if s.trip(&s.topicFailures) {
		return nil, errStorageDown
	}
	return s.MemoryStore.ListRoundTopics(ctx, roomID, game, round)
}
