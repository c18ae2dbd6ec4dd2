package server

import (
	"context"
	"errors"
	"testing"
)

func TestCreateSeatAssignsHostAndPositions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	room, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	first, err := store.CreateSeat(ctx, room.ID, 6)
	if err != nil {
		t.Fatalf("create seat: %v", err)
	}
	second, err := store.CreateSeat(ctx, room.ID, 6)
	if err != nil {
		t.Fatalf("create seat: %v", err)
	}
	if !first.IsHost || second.IsHost {
		t.Fatalf("expected only the first seat to be host, got %v and %v", first.IsHost, second.IsHost)
	}
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("unexpected positions %d, %d", first.Position, second.Position)
	}
	if first.Name != "Player 1" {
		t.Fatalf("unexpected default name %q", first.Name)
	}
}

func TestCreateSeatRespectsLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	room, _ := store.CreateRoom(ctx)
	for i := 0; i < 2; i++ {
		if _, err := store.CreateSeat(ctx, room.ID, 2); err != nil {
			t.Fatalf("create seat %d: %v", i, err)
		}
	}
	if _, err := store.CreateSeat(ctx, room.ID, 2); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestDeletedSeatFreesCapacityButKeepsPosition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	room, _ := store.CreateRoom(ctx)
	a, _ := store.CreateSeat(ctx, room.ID, 2)
	_, _ = store.CreateSeat(ctx, room.ID, 2)

	if err := store.DeleteSeat(ctx, a.ID); err != nil {
		t.Fatalf("delete seat: %v", err)
	}
	c, err := store.CreateSeat(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("expected a free seat after delete, got %v", err)
	}
	if c.Position != 3 {
		t.Fatalf("expected position 3, got %d", c.Position)
	}
	if _, err := store.GetSeat(ctx, a.ID); !errors.Is(err, ErrSeatNotFound) {
		t.Fatalf("expected deleted seat to be gone, got %v", err)
	}
	seats, _ := store.ListLiveSeats(ctx, room.ID)
	if len(seats) != 2 || seats[1].ID != c.ID {
		t.Fatalf("unexpected live seats %#v", seats)
	}
}

func TestTopicsByRoundAndChain(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	room, _ := store.CreateRoom(ctx)
	topics := []Topic{
		{RoomID: room.ID, SeatID: 1, ChainID: 1, Game: 1, Round: 1, Title: "old game"},
		{RoomID: room.ID, SeatID: 2, ChainID: 1, Game: 2, Round: 2, Title: "second"},
		{RoomID: room.ID, SeatID: 1, ChainID: 1, Game: 2, Round: 1, Title: "first"},
		{RoomID: room.ID, SeatID: 2, ChainID: 2, Game: 2, Round: 1, Title: "other"},
	}
	for i := range topics {
		if err := store.CreateTopic(ctx, &topics[i]); err != nil {
			t.Fatalf("create topic: %v", err)
		}
		if topics[i].ID == 0 {
			t.Fatalf("expected topic id to be assigned")
		}
	}

	chain, _ := store.ListChainTopics(ctx, room.ID, 2, 1)
	if len(chain) != 2 || chain[0].Title != "first" || chain[1].Title != "second" {
		t.Fatalf("unexpected chain %#v", chain)
	}
	round, _ := store.ListRoundTopics(ctx, room.ID, 2, 1)
	if len(round) != 2 {
		t.Fatalf("expected 2 round-1 topics, got %d", len(round))
	}
	old, _ := store.ListChainTopics(ctx, room.ID, 1, 1)
	if len(old) != 1 || old[0].Title != "old game" {
		t.Fatalf("unexpected first game chain %#v", old)
	}

	latest, err := store.LatestTopic(ctx, 2)
	if err != nil || latest.Title != "other" {
		t.Fatalf("unexpected latest topic %#v (%v)", latest, err)
	}
	if err := store.UpdateTopicImage(ctx, latest.ID, "img://other", false); err != nil {
		t.Fatalf("update image: %v", err)
	}
	latest, _ = store.LatestTopic(ctx, 2)
	if latest.Image() != "img://other" {
		t.Fatalf("unexpected image %q", latest.Image())
	}
	if _, err := store.LatestTopic(ctx, 99); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}

func TestDirectoryRemoveSeatPromotesHost(t *testing.T) {
	store := NewMemoryStore()
	dir := NewDirectory(store, 6)
	ctx := context.Background()
	room, _ := dir.CreateRoom(ctx)
	host, _ := dir.AddSeat(ctx, room.ID)
	next, _ := dir.AddSeat(ctx, room.ID)
	_, _ = dir.AddSeat(ctx, room.ID)

	deleted, err := dir.RemoveSeat(ctx, host.ID)
	if err != nil || deleted {
		t.Fatalf("unexpected remove result deleted=%v err=%v", deleted, err)
	}
	players, _ := dir.Players(ctx, room.ID)
	if len(players) != 2 || players[0].ID != next.ID || !players[0].IsHost || players[1].IsHost {
		t.Fatalf("expected earliest seat to be promoted, got %#v", players)
	}
}

func TestDirectoryRemoveLastSeatDeletesRoom(t *testing.T) {
	store := NewMemoryStore()
	dir := NewDirectory(store, 6)
	ctx := context.Background()
	room, _ := dir.CreateRoom(ctx)
	seat, _ := dir.AddSeat(ctx, room.ID)

	deleted, err := dir.RemoveSeat(ctx, seat.ID)
	if err != nil || !deleted {
		t.Fatalf("expected room deletion, got deleted=%v err=%v", deleted, err)
	}
	if _, err := dir.GetRoom(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if _, err := dir.AddSeat(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected join of deleted room to fail, got %v", err)
	}
	deleted, err = dir.RemoveSeat(ctx, seat.ID)
	if err != nil || deleted {
		t.Fatalf("expected second remove to be a no-op, got deleted=%v err=%v", deleted, err)
	}
}

func TestDirectoryDefaultsMaxSeats(t *testing.T) {
	if got := NewDirectory(NewMemoryStore(), 0).MaxSeats(); got != 6 {
		t.Fatalf("expected 6 seats, got %d", got)
	}
}
