package server

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Member is one open session as seen by the gateway.
type Member interface {
	SeatID() uint
	Enqueue(msg Message, data []byte) error
}

// Gateway fans messages out to the open sessions of a room. Enqueue never
// blocks, so callers may broadcast while holding a room lock and every
// session observes broadcasts in the same order.
type Gateway struct {
	mu    sync.RWMutex
	rooms map[uint]map[Member]struct{}
}

func NewGateway() *Gateway {
	return &Gateway{rooms: make(map[uint]map[Member]struct{})}
}

func (g *Gateway) Add(roomID uint, member Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group := g.rooms[roomID]
	if group == nil {
		group = make(map[Member]struct{})
		g.rooms[roomID] = group
	}
	group[member] = struct{}{}
}

func (g *Gateway) Remove(roomID uint, member Member) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group := g.rooms[roomID]
	if group == nil {
		return
	}
	delete(group, member)
	if len(group) == 0 {
		delete(g.rooms, roomID)
	}
}

func (g *Gateway) Count(roomID uint) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[roomID])
}

func (g *Gateway) members(roomID uint) []Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	group := g.rooms[roomID]
	members := make([]Member, 0, len(group))
	for member := range group {
		members = append(members, member)
	}
	return members
}

// Broadcast marshals msg once and enqueues it to every member of the room.
// It returns how many members accepted the message.
func (g *Gateway) Broadcast(roomID uint, msg Message) int {
	data, err := encodeMessage(msg)
	if err != nil {
		logrus.WithError(err).WithField("event", msg.Event).Error("encode broadcast")
		return 0
	}
	delivered := 0
	for _, member := range g.members(roomID) {
		if err := member.Enqueue(msg, data); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id": roomID,
				"seat_id": member.SeatID(),
				"event":   msg.Event,
			}).WithError(err).Debug("broadcast skipped member")
			continue
		}
		delivered++
	}
	return delivered
}

// Deliver sends msg to the sessions holding seatID only.
func (g *Gateway) Deliver(roomID, seatID uint, msg Message) bool {
	data, err := encodeMessage(msg)
	if err != nil {
		logrus.WithError(err).WithField("event", msg.Event).Error("encode message")
		return false
	}
	delivered := false
	for _, member := range g.members(roomID) {
		if member.SeatID() != seatID {
			continue
		}
		if err := member.Enqueue(msg, data); err == nil {
			delivered = true
		}
	}
	return delivered
}
