package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Conn is the transport under a session. Reads happen on one goroutine and
// writes on another.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	CloseWith(code int, reason string) error
	Close() error
}

type SessionConfig struct {
	PingInterval       time.Duration
	LivenessTimeout    time.Duration
	LivenessAnyTraffic bool
	QueueSize          int
	RateLimit          rate.Limit
	RateBurst          int
	LeaveTimeout       time.Duration
}

const (
	sessionConnecting = iota
	sessionOpen
	sessionClosed
)

var errQueueFull = errors.New("session send queue full")

// Session is one client connection bound to at most one seat.
type Session struct {
	id      string
	roomID  uint
	conn    Conn
	coord   *Coordinator
	cfg     SessionConfig
	log     *logrus.Entry
	limiter *rate.Limiter
	monitor *Monitor

	out        chan []byte
	writerDone chan struct{}
	closeOnce  sync.Once

	mu     sync.Mutex
	state  int
	seatID uint
	round  int
}

func NewSession(roomID uint, conn Conn, coord *Coordinator, cfg SessionConfig) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.LeaveTimeout <= 0 {
		cfg.LeaveTimeout = 5 * time.Second
	}
	id := uuid.NewString()
	s := &Session{
		id:         id,
		roomID:     roomID,
		conn:       conn,
		coord:      coord,
		cfg:        cfg,
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		out:        make(chan []byte, cfg.QueueSize),
		writerDone: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"session_id": id,
			"room_id":    roomID,
		}),
	}
	s.monitor = NewMonitor(cfg.PingInterval, cfg.LivenessTimeout, s.sendPing, s.expire)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) SeatID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seatID
}

func (s *Session) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Seated marks the session open and queues the connected frame ahead of any
// broadcast.
func (s *Session) Seated(seat Seat) {
	s.mu.Lock()
	s.seatID = seat.ID
	s.state = sessionOpen
	s.log = s.log.WithField("seat_id", seat.ID)
	s.mu.Unlock()
	_ = s.send(Message{Event: eventConnected, Data: connectedData{PlayerID: seat.ID}})
}

// Enqueue never blocks. Messages for a session that is not open are dropped.
func (s *Session) Enqueue(msg Message, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionOpen {
		return ErrSessionClosed
	}
	switch payload := msg.Data.(type) {
	case gameStartData:
		s.round = payload.Round
	case moveNextRoundData:
		s.round = payload.Round
	}
	select {
	case s.out <- data:
		return nil
	default:
		s.log.WithField("event", msg.Event).Warn("send queue full, dropping message")
		return errQueueFull
	}
}

func (s *Session) send(msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return s.Enqueue(msg, data)
}

// Run seats the session and pumps messages until the connection ends. The
// seat is released before Run returns.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := s.coord.Join(ctx, s.roomID, s); err != nil {
		s.reject(err)
		return
	}
	s.log.Info("session connected")

	go s.writePump()
	go s.monitor.Run(ctx)
	s.readPump(ctx)
	s.shutdown()
}

func (s *Session) reject(err error) {
	s.mu.Lock()
	s.state = sessionClosed
	s.mu.Unlock()
	close(s.writerDone)

	s.log.WithError(err).Info("session rejected")
	code := websocket.ClosePolicyViolation
	if !errors.Is(err, ErrRoomFull) && !errors.Is(err, ErrRoomNotFound) {
		code = websocket.CloseInternalServerErr
	}
	message := userMessage(err)
	if data, encErr := encodeMessage(errorMessage(message)); encErr == nil {
		_ = s.conn.WriteMessage(data)
	}
	s.closeConn(code, message)
}

func (s *Session) readPump(ctx context.Context) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("read failed")
			}
			return
		}
		if s.cfg.LivenessAnyTraffic {
			s.monitor.Touch()
		}
		if !s.limiter.Allow() {
			s.log.Debug("rate limited, dropping inbound message")
			continue
		}
		s.dispatch(ctx, data)
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	msg, err := decodeInbound(data)
	if err != nil {
		s.log.WithError(err).Debug("ignoring malformed message")
		return
	}
	seatID := s.SeatID()
	log := s.log.WithField("event", msg.Event)

	switch msg.Event {
	case eventPing:
		s.monitor.Touch()
		_ = s.send(Message{Event: eventPong, Data: eventPong})
	case eventPong:
		s.monitor.Touch()
	case eventNameChanged:
		var payload nameChangedPayload
		if err := decodePayload(msg, &payload); err != nil {
			s.replyError(err.Error())
			return
		}
		if !ownsSeat(payload.PlayerID, seatID) {
			log.WithField("player_id", payload.PlayerID).Warn("rename for another seat ignored")
			return
		}
		s.handle(log, s.coord.Rename(ctx, s.roomID, seatID, normalizeText(payload.Name)))
	case eventStartGame:
		s.handle(log, s.coord.Start(ctx, s.roomID, seatID))
	case eventInputTitle, eventSubmitTopic:
		var payload titlePayload
		if err := decodePayload(msg, &payload); err != nil {
			s.replyError(err.Error())
			return
		}
		if !ownsSeat(payload.PlayerID, seatID) {
			log.WithField("player_id", payload.PlayerID).Warn("submission for another seat ignored")
			return
		}
		s.handle(log, s.coord.Submit(ctx, s.roomID, seatID, normalizeText(payload.Title)))
	case eventChangeTitle:
		var payload titlePayload
		if err := decodePayload(msg, &payload); err != nil {
			s.replyError(err.Error())
			return
		}
		if !ownsSeat(payload.PlayerID, seatID) {
			return
		}
		s.handle(log, s.coord.ChangeTitle(ctx, s.roomID, seatID, normalizeText(payload.Title)))
	case eventWantResult:
		var payload wantResultPayload
		if err := decodePayload(msg, &payload); err != nil {
			s.replyError(err.Error())
			return
		}
		s.handle(log, s.coord.ShowResult(ctx, s.roomID, payload.PlayerID))
	default:
		log.Debug("ignoring unknown event")
	}
}

func (s *Session) handle(log *logrus.Entry, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidPhase), errors.Is(err, ErrEditClosed),
		errors.Is(err, ErrSeatNotFound), errors.Is(err, ErrTopicNotFound):
		log.WithError(err).Debug("action refused")
	default:
		log.WithError(err).Error("action failed")
	}
	s.replyError(userMessage(err))
}

func (s *Session) replyError(message string) {
	_ = s.send(errorMessage(message))
}

func (s *Session) writePump() {
	defer close(s.writerDone)
	for data := range s.out {
		if err := s.conn.WriteMessage(data); err != nil {
			s.log.WithError(err).Debug("write failed")
			_ = s.conn.Close()
			for range s.out {
			}
			return
		}
	}
}

func (s *Session) sendPing() {
	_ = s.send(Message{Event: eventPing, Data: eventPing})
}

func (s *Session) expire() {
	s.log.WithField("idle", s.monitor.Idle().String()).Info("liveness timeout")
	s.closeConn(websocket.CloseGoingAway, "liveness timeout")
}

// Close ends the session from outside. Run still performs the teardown.
func (s *Session) Close() {
	s.closeConn(websocket.CloseNormalClosure, "")
}

func (s *Session) closeConn(code int, reason string) {
	s.closeOnce.Do(func() {
		if err := s.conn.CloseWith(code, reason); err != nil {
			s.log.WithError(err).Debug("close connection")
		}
	})
}

func (s *Session) shutdown() {
	s.monitor.Stop()

	s.mu.Lock()
	wasOpen := s.state == sessionOpen
	s.state = sessionClosed
	seatID := s.seatID
	close(s.out)
	s.mu.Unlock()

	if wasOpen {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LeaveTimeout)
		defer cancel()
		if err := s.coord.Leave(ctx, s.roomID, seatID, s); err != nil && !errors.Is(err, ErrRoomNotFound) {
			s.log.WithError(err).Error("release seat")
		}
	}
	<-s.writerDone
	s.closeConn(websocket.CloseNormalClosure, "")
	s.log.Info("session closed")
}

// A zero playerId means the sender's own seat.
func ownsSeat(playerID, seatID uint) bool {
	return playerID == 0 || playerID == seatID
}
