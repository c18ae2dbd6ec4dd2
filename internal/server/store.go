package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Storage persists rooms, seats, topics and the room event log. Callers that
// need count-then-insert atomicity get it from the implementation itself.
type Storage interface {
	CreateRoom(ctx context.Context) (Room, error)
	GetRoom(ctx context.Context, id uint) (Room, error)
	UpdateRoom(ctx context.Context, room Room) error
	DeleteRoom(ctx context.Context, id uint) error

	CreateSeat(ctx context.Context, roomID uint, maxSeats int) (Seat, error)
	GetSeat(ctx context.Context, id uint) (Seat, error)
	ListLiveSeats(ctx context.Context, roomID uint) ([]Seat, error)
	CountLiveSeats(ctx context.Context, roomID uint) (int, error)
	RenameSeat(ctx context.Context, id uint, name string) error
	SetHost(ctx context.Context, id uint) error
	DeleteSeat(ctx context.Context, id uint) error

	CreateTopic(ctx context.Context, topic *Topic) error
	LatestTopic(ctx context.Context, seatID uint) (Topic, error)
	UpdateTopicTitle(ctx context.Context, id uint, title string) error
	UpdateTopicImage(ctx context.Context, id uint, url string, failed bool) error
	// Topics belong to one game of a room; a restarted room starts a new game.
	ListRoundTopics(ctx context.Context, roomID uint, game, round int) ([]Topic, error)
	ListChainTopics(ctx context.Context, roomID uint, game int, chainID uint) ([]Topic, error)

	RecordEvent(ctx context.Context, roomID, seatID uint, eventType string, payload any) error
}

type EventPayload struct {
	Game     int    `json:"game,omitempty"`
	Round    int    `json:"round,omitempty"`
	SeatID   uint   `json:"seat_id,omitempty"`
	ChainID  uint   `json:"chain_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
	Players  int    `json:"players,omitempty"`
}

type storedEvent struct {
	RoomID  uint
	SeatID  uint
	Type    string
	Payload json.RawMessage
	At      time.Time
}

type memorySeat struct {
	Seat
	deleted bool
}

// MemoryStore keeps everything in process. It is used when DATABASE_URL is
// unset and by most tests.
type MemoryStore struct {
	mu           sync.Mutex
	nextRoomID   uint
	nextSeatID   uint
	nextTopicID  uint
	rooms        map[uint]*Room
	deletedRooms map[uint]struct{}
	seats        map[uint]*memorySeat
	topics       []*Topic
	events       []storedEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextRoomID:   1,
		nextSeatID:   1,
		nextTopicID:  1,
		rooms:        make(map[uint]*Room),
		deletedRooms: make(map[uint]struct{}),
		seats:        make(map[uint]*memorySeat),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := &Room{
		ID:        s.nextRoomID,
		Phase:     phaseLobby,
		CreatedAt: timeNowUTC(),
	}
	s.nextRoomID++
	s.rooms[room.ID] = room
	return *room, nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id uint) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return *room, nil
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, room Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[room.ID]
	if !ok {
		return ErrRoomNotFound
	}
	current.Phase = room.Phase
	current.Game = room.Game
	current.Round = room.Round
	current.CompleteNum = room.CompleteNum
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, id)
	s.deletedRooms[id] = struct{}{}
	return nil
}

func (s *MemoryStore) CreateSeat(ctx context.Context, roomID uint, maxSeats int) (Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return Seat{}, ErrRoomNotFound
	}
	live := 0
	position := 0
	for _, seat := range s.seats {
		if seat.RoomID != roomID {
			continue
		}
		if seat.Position > position {
			position = seat.Position
		}
		if !seat.deleted {
			live++
		}
	}
	if live >= maxSeats {
		return Seat{}, ErrRoomFull
	}
	position++
	seat := &memorySeat{Seat: Seat{
		ID:        s.nextSeatID,
		RoomID:    roomID,
		Position:  position,
		Name:      defaultSeatName(position),
		IsHost:    live == 0,
		CreatedAt: timeNowUTC(),
	}}
	s.nextSeatID++
	s.seats[seat.ID] = seat
	return seat.Seat, nil
}

func (s *MemoryStore) GetSeat(ctx context.Context, id uint) (Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[id]
	if !ok || seat.deleted {
		return Seat{}, ErrSeatNotFound
	}
	return seat.Seat, nil
}

func (s *MemoryStore) ListLiveSeats(ctx context.Context, roomID uint) ([]Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seats := make([]Seat, 0, 6)
	for _, seat := range s.seats {
		if seat.RoomID == roomID && !seat.deleted {
			seats = append(seats, seat.Seat)
		}
	}
	sortSeats(seats)
	return seats, nil
}

func (s *MemoryStore) CountLiveSeats(ctx context.Context, roomID uint) (int, error) {
	seats, err := s.ListLiveSeats(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return len(seats), nil
}

func (s *MemoryStore) RenameSeat(ctx context.Context, id uint, name string) error {
	return s.updateSeat(id, func(seat *memorySeat) { seat.Name = name })
}

func (s *MemoryStore) SetHost(ctx context.Context, id uint) error {
	return s.updateSeat(id, func(seat *memorySeat) { seat.IsHost = true })
}

func (s *MemoryStore) DeleteSeat(ctx context.Context, id uint) error {
	return s.updateSeat(id, func(seat *memorySeat) { seat.deleted = true })
}

func (s *MemoryStore) updateSeat(id uint, update func(seat *memorySeat)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[id]
	if !ok || seat.deleted {
		return ErrSeatNotFound
	}
	update(seat)
	return nil
}

func (s *MemoryStore) CreateTopic(ctx context.Context, topic *Topic) error {
	if topic == nil {
		return fmt.Errorf("topic is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *topic
	stored.ID = s.nextTopicID
	stored.CreatedAt = timeNowUTC()
	s.nextTopicID++
	s.topics = append(s.topics, &stored)
	*topic = stored
	return nil
}

func (s *MemoryStore) LatestTopic(ctx context.Context, seatID uint) (Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.topics) - 1; i >= 0; i-- {
		if s.topics[i].SeatID == seatID {
			return copyTopic(s.topics[i]), nil
		}
	}
	return Topic{}, ErrTopicNotFound
}

func (s *MemoryStore) UpdateTopicTitle(ctx context.Context, id uint, title string) error {
	return s.updateTopic(id, func(topic *Topic) { topic.Title = title })
}

func (s *MemoryStore) UpdateTopicImage(ctx context.Context, id uint, url string, failed bool) error {
	return s.updateTopic(id, func(topic *Topic) {
		topic.ImageURL = &url
		topic.Failed = failed
	})
}

func (s *MemoryStore) updateTopic(id uint, update func(topic *Topic)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, topic := range s.topics {
		if topic.ID == id {
			update(topic)
			return nil
		}
	}
	return ErrTopicNotFound
}

func (s *MemoryStore) ListRoundTopics(ctx context.Context, roomID uint, game, round int) ([]Topic, error) {
	return s.filterTopics(func(topic *Topic) bool {
		return topic.RoomID == roomID && topic.Game == game && topic.Round == round
	}), nil
}

func (s *MemoryStore) ListChainTopics(ctx context.Context, roomID uint, game int, chainID uint) ([]Topic, error) {
	topics := s.filterTopics(func(topic *Topic) bool {
		return topic.RoomID == roomID && topic.Game == game && topic.ChainID == chainID
	})
	sort.SliceStable(topics, func(i, j int) bool { return topics[i].Round < topics[j].Round })
	return topics, nil
}

func (s *MemoryStore) filterTopics(match func(topic *Topic) bool) []Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	var topics []Topic
	for _, topic := range s.topics {
		if match(topic) {
			topics = append(topics, copyTopic(topic))
		}
	}
	return topics
}

func (s *MemoryStore) RecordEvent(ctx context.Context, roomID, seatID uint, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, storedEvent{
		RoomID:  roomID,
		SeatID:  seatID,
		Type:    eventType,
		Payload: data,
		At:      timeNowUTC(),
	})
	return nil
}

// Events returns the recorded event types for a room in insertion order.
func (s *MemoryStore) Events(roomID uint) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, event := range s.events {
		if event.RoomID == roomID {
			types = append(types, event.Type)
		}
	}
	return types
}

func copyTopic(topic *Topic) Topic {
	out := *topic
	if topic.ImageURL != nil {
		url := *topic.ImageURL
		out.ImageURL = &url
	}
	return out
}

func sortSeats(seats []Seat) {
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Position != seats[j].Position {
			return seats[i].Position < seats[j].Position
		}
		return seats[i].ID < seats[j].ID
	})
}

func defaultSeatName(position int) string {
	return fmt.Sprintf("Player %d", position)
}

func timeNowUTC() time.Time {
	return time.Now().UTC()
}

var _ Storage = (*MemoryStore)(nil)
