package server

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Participant is a session that can be seated in a room.
type Participant interface {
	Member
	// Seated runs under the room lock once the seat exists and before any
	// broadcast about it, so the session's first frame is always connected.
	Seated(seat Seat)
}

type roomState struct {
	mu        sync.Mutex
	id        uint
	loaded    bool
	gone      bool
	phase     string
	game      int
	round     int
	submitted map[uint]struct{}
	epoch     int
	reveals   int
	cancel    context.CancelFunc
}

// Coordinator owns the per-room round state machine. Every operation on a
// room runs under that room's lock, so joins, leaves, submissions and
// transitions are serialized and broadcasts leave in one order.
type Coordinator struct {
	dir      *Directory
	store    Storage
	gateway  *Gateway
	pipeline Pipeline
	renders  int

	mu    sync.Mutex
	rooms map[uint]*roomState
	wg    sync.WaitGroup
}

func NewCoordinator(dir *Directory, store Storage, gateway *Gateway, pipeline Pipeline, renderConcurrency int) *Coordinator {
	if renderConcurrency <= 0 {
		renderConcurrency = 4
	}
	return &Coordinator{
		dir:      dir,
		store:    store,
		gateway:  gateway,
		pipeline: pipeline,
		renders:  renderConcurrency,
		rooms:    make(map[uint]*roomState),
	}
}

// acquire returns the locked state of a live room. The caller must unlock.
func (c *Coordinator) acquire(ctx context.Context, roomID uint) (*roomState, error) {
	c.mu.Lock()
	st, ok := c.rooms[roomID]
	if !ok {
		st = &roomState{id: roomID, submitted: make(map[uint]struct{})}
		c.rooms[roomID] = st
	}
	c.mu.Unlock()

	st.mu.Lock()
	if st.gone {
		st.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if !st.loaded {
		room, err := c.dir.GetRoom(ctx, roomID)
		if err != nil {
			st.mu.Unlock()
			if errors.Is(err, ErrRoomNotFound) {
				c.forget(roomID, st)
			}
			return nil, err
		}
		st.loaded = true
		st.phase = room.Phase
		st.game = room.Game
		st.round = room.Round
		if st.phase == "" {
			st.phase = phaseLobby
		}
		// A restart loses in-flight renders; reopen the round for edits.
		if st.phase == phaseRendering || st.phase == phaseRevealing {
			st.phase = phaseCollecting
		}
	}
	return st, nil
}

func (c *Coordinator) forget(roomID uint, st *roomState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[roomID] == st {
		delete(c.rooms, roomID)
	}
}

func (c *Coordinator) CreateRoom(ctx context.Context) (Room, error) {
	room, err := c.dir.CreateRoom(ctx)
	if err != nil {
		return Room{}, err
	}
	c.record(ctx, room.ID, 0, "room_created", EventPayload{})
	return room, nil
}

// Join seats p in the room, then tells everyone about the new player list.
func (c *Coordinator) Join(ctx context.Context, roomID uint, p Participant) (Seat, error) {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return Seat{}, err
	}
	defer st.mu.Unlock()

	seat, err := c.dir.AddSeat(ctx, roomID)
	if err != nil {
		return Seat{}, err
	}
	p.Seated(seat)
	c.gateway.Add(roomID, p)
	c.broadcastPlayers(ctx, roomID)
	c.record(ctx, roomID, seat.ID, "seat_joined", EventPayload{SeatID: seat.ID, Name: seat.Name})
	return seat, nil
}

// Leave releases the seat held by m. A departure can complete the submission
// barrier for the players who remain.
func (c *Coordinator) Leave(ctx context.Context, roomID, seatID uint, m Member) error {
	c.gateway.Remove(roomID, m)
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	roomDeleted, err := c.dir.RemoveSeat(ctx, seatID)
	if err != nil {
		return err
	}
	c.record(ctx, roomID, seatID, "seat_left", EventPayload{SeatID: seatID})
	if roomDeleted {
		st.gone = true
		if st.cancel != nil {
			st.cancel()
		}
		c.forget(roomID, st)
		logrus.WithField("room_id", roomID).Info("room closed, no seats left")
		return nil
	}

	delete(st.submitted, seatID)
	c.broadcastPlayers(ctx, roomID)

	if st.phase != phaseCollecting {
		return nil
	}
	seats, err := c.dir.ListLiveSeats(ctx, roomID)
	if err != nil {
		return err
	}
	complete := countSubmitted(st, seats)
	c.persistRoom(ctx, st, complete)
	c.broadcastComplete(roomID, complete, len(seats))
	if complete >= len(seats) {
		c.beginRendering(st)
	}
	return nil
}

func (c *Coordinator) Rename(ctx context.Context, roomID, seatID uint, name string) error {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if err := c.dir.RenameSeat(ctx, seatID, name); err != nil {
		return err
	}
	c.gateway.Deliver(roomID, seatID, Message{Event: eventChangeName, Data: changeNameData{PlayerID: seatID, Name: name}})
	c.broadcastPlayers(ctx, roomID)
	c.record(ctx, roomID, seatID, "seat_renamed", EventPayload{SeatID: seatID, Name: name})
	return nil
}

// Start begins round 1 of a new game. It is allowed from the lobby and
// after a finished game, by any seat. Topics of earlier games stay stored
// but are no longer visible to rounds, edits or results.
func (c *Coordinator) Start(ctx context.Context, roomID, seatID uint) error {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if st.phase != phaseLobby && st.phase != phaseFinished {
		return ErrInvalidPhase
	}
	seats, err := c.dir.ListLiveSeats(ctx, roomID)
	if err != nil {
		return err
	}
	if len(seats) == 0 || seatIndex(seats, seatID) < 0 {
		return ErrSeatNotFound
	}
	st.phase = phaseCollecting
	st.game++
	st.round = 1
	st.reveals = 0
	st.submitted = make(map[uint]struct{})
	c.persistRoom(ctx, st, 0)
	c.gateway.Broadcast(roomID, Message{Event: eventGameStart, Data: gameStartData{Round: 1, Players: len(seats)}})
	c.record(ctx, roomID, seatID, "game_started", EventPayload{Game: st.game, Round: 1, Players: len(seats)})
	return nil
}

// Submit records the seat's topic for the current round. A repeated
// submission in the same round edits the topic and does not count twice.
func (c *Coordinator) Submit(ctx context.Context, roomID, seatID uint, title string) error {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if st.phase != phaseCollecting {
		return ErrInvalidPhase
	}
	if _, done := st.submitted[seatID]; done {
		return c.editTopic(ctx, st, seatID, title)
	}
	seats, err := c.dir.ListLiveSeats(ctx, roomID)
	if err != nil {
		return err
	}
	idx := seatIndex(seats, seatID)
	if idx < 0 {
		return ErrSeatNotFound
	}
	chain := seats[mod(idx-(st.round-1), len(seats))].ID
	topic := Topic{
		RoomID:  roomID,
		SeatID:  seatID,
		ChainID: chain,
		Game:    st.game,
		Round:   st.round,
		Title:   title,
	}
	if err := c.store.CreateTopic(ctx, &topic); err != nil {
		return err
	}
	st.submitted[seatID] = struct{}{}
	c.record(ctx, roomID, seatID, "topic_submitted", EventPayload{Round: st.round, ChainID: chain, Title: title})

	complete := countSubmitted(st, seats)
	c.persistRoom(ctx, st, complete)
	c.broadcastComplete(roomID, complete, len(seats))
	if complete >= len(seats) {
		c.beginRendering(st)
	}
	return nil
}

// ChangeTitle edits the seat's topic for the current round while it is
// still being collected.
func (c *Coordinator) ChangeTitle(ctx context.Context, roomID, seatID uint, title string) error {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if st.phase != phaseCollecting {
		return ErrEditClosed
	}
	return c.editTopic(ctx, st, seatID, title)
}

func (c *Coordinator) editTopic(ctx context.Context, st *roomState, seatID uint, title string) error {
	topic, err := c.store.LatestTopic(ctx, seatID)
	if errors.Is(err, ErrTopicNotFound) {
		return ErrEditClosed
	}
	if err != nil {
		return err
	}
	if topic.RoomID != st.id || topic.Game != st.game || topic.Round != st.round {
		return ErrEditClosed
	}
	if topic.Title == title {
		return nil
	}
	if err := c.store.UpdateTopicTitle(ctx, topic.ID, title); err != nil {
		return err
	}
	c.record(ctx, st.id, seatID, "topic_edited", EventPayload{Round: st.round, Title: title})
	return nil
}

// Results lists the chain that started with chainID's round 1 topic in the
// room's latest game, in round order.
func (c *Coordinator) Results(ctx context.Context, roomID, chainID uint) ([]ResultEntry, error) {
	room, err := c.dir.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	topics, err := c.store.ListChainTopics(ctx, roomID, room.Game, chainID)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string)
	seats, err := c.dir.ListLiveSeats(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, seat := range seats {
		names[seat.ID] = seat.Name
	}
	results := make([]ResultEntry, 0, len(topics))
	for _, topic := range topics {
		name, ok := names[topic.SeatID]
		if !ok {
			if seat, err := c.store.GetSeat(ctx, topic.SeatID); err == nil {
				name = seat.Name
			}
		}
		results = append(results, ResultEntry{
			Round:      topic.Round,
			PlayerID:   topic.SeatID,
			PlayerName: name,
			Title:      topic.Title,
			Image:      topic.Image(),
			Failed:     topic.Failed,
		})
	}
	return results, nil
}

// ShowResult broadcasts the chain for chainID to the whole room.
func (c *Coordinator) ShowResult(ctx context.Context, roomID, chainID uint) error {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	results, err := c.Results(ctx, roomID, chainID)
	if err != nil {
		return err
	}
	c.gateway.Broadcast(roomID, Message{Event: eventGameResult, Data: gameResultData{PlayerID: chainID, Results: results}})
	return nil
}

func (c *Coordinator) Snapshot(ctx context.Context, roomID uint) (RoomSnapshot, error) {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return RoomSnapshot{}, err
	}
	defer st.mu.Unlock()

	seats, err := c.dir.ListLiveSeats(ctx, roomID)
	if err != nil {
		return RoomSnapshot{}, err
	}
	return RoomSnapshot{
		ID:          roomID,
		Phase:       st.phase,
		Game:        st.game,
		Round:       st.round,
		CompleteNum: countSubmitted(st, seats),
		Reveals:     st.reveals,
		MaxSeats:    c.dir.MaxSeats(),
		Players:     playerViews(seats),
	}, nil
}

// Close cancels in-flight renders and waits for them to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	states := make([]*roomState, 0, len(c.rooms))
	for _, st := range c.rooms {
		states = append(states, st)
	}
	c.mu.Unlock()
	for _, st := range states {
		st.mu.Lock()
		if st.cancel != nil {
			st.cancel()
		}
		st.mu.Unlock()
	}
	c.wg.Wait()
}

func (c *Coordinator) broadcastPlayers(ctx context.Context, roomID uint) {
	players, err := c.dir.Players(ctx, roomID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("list players")
		return
	}
	c.gateway.Broadcast(roomID, Message{Event: eventRenewList, Data: playersData{Players: players}})
}

func (c *Coordinator) broadcastComplete(roomID uint, complete, total int) {
	c.gateway.Broadcast(roomID, Message{Event: eventCompleteUpdate, Data: completeData{CompleteNum: complete, Total: total}})
}

func (c *Coordinator) persistRoom(ctx context.Context, st *roomState, complete int) {
	err := c.store.UpdateRoom(ctx, Room{ID: st.id, Phase: st.phase, Game: st.game, Round: st.round, CompleteNum: complete})
	if err != nil {
		logrus.WithError(err).WithField("room_id", st.id).Warn("persist room state")
	}
}

func (c *Coordinator) record(ctx context.Context, roomID, seatID uint, eventType string, payload EventPayload) {
	if err := c.store.RecordEvent(ctx, roomID, seatID, eventType, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id": roomID,
			"event":   eventType,
		}).Warn("record event")
	}
}

func countSubmitted(st *roomState, seats []Seat) int {
	complete := 0
	for _, seat := range seats {
		if _, ok := st.submitted[seat.ID]; ok {
			complete++
		}
	}
	return complete
}

func mod(a, n int) int {
	if n <= 0 {
		return 0
	}
	return ((a % n) + n) % n
}
