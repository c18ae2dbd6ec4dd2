package server

import (
	"context"
	"errors"
)

// Directory tracks which seats are live in each room. It does no locking of
// its own; the coordinator serializes calls per room.
type Directory struct {
	store    Storage
	maxSeats int
}

func NewDirectory(store Storage, maxSeats int) *Directory {
	if maxSeats <= 0 {
		maxSeats = 6
	}
	return &Directory{store: store, maxSeats: maxSeats}
}

func (d *Directory) MaxSeats() int {
	return d.maxSeats
}

func (d *Directory) CreateRoom(ctx context.Context) (Room, error) {
	return d.store.CreateRoom(ctx)
}

func (d *Directory) GetRoom(ctx context.Context, id uint) (Room, error) {
	return d.store.GetRoom(ctx, id)
}

func (d *Directory) CountLiveSeats(ctx context.Context, roomID uint) (int, error) {
	return d.store.CountLiveSeats(ctx, roomID)
}

func (d *Directory) ListLiveSeats(ctx context.Context, roomID uint) ([]Seat, error) {
	return d.store.ListLiveSeats(ctx, roomID)
}

func (d *Directory) Players(ctx context.Context, roomID uint) ([]PlayerView, error) {
	seats, err := d.store.ListLiveSeats(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return playerViews(seats), nil
}

// AddSeat creates a live seat, failing with ErrRoomFull once maxSeats live
// seats exist. The first live seat of a room becomes host.
func (d *Directory) AddSeat(ctx context.Context, roomID uint) (Seat, error) {
	if _, err := d.store.GetRoom(ctx, roomID); err != nil {
		return Seat{}, err
	}
	return d.store.CreateSeat(ctx, roomID, d.maxSeats)
}

// RemoveSeat soft-deletes the seat. When the room has no live seats left it
// is deleted too and roomDeleted is true. A departing host hands the role to
// the earliest remaining seat. Removing an already removed seat is a no-op.
func (d *Directory) RemoveSeat(ctx context.Context, seatID uint) (roomDeleted bool, err error) {
	seat, err := d.store.GetSeat(ctx, seatID)
	if errors.Is(err, ErrSeatNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := d.store.DeleteSeat(ctx, seat.ID); err != nil && !errors.Is(err, ErrSeatNotFound) {
		return false, err
	}
	remaining, err := d.store.ListLiveSeats(ctx, seat.RoomID)
	if err != nil {
		return false, err
	}
	if len(remaining) == 0 {
		if err := d.store.DeleteRoom(ctx, seat.RoomID); err != nil && !errors.Is(err, ErrRoomNotFound) {
			return false, err
		}
		return true, nil
	}
	if seat.IsHost && !hasHost(remaining) {
		if err := d.store.SetHost(ctx, remaining[0].ID); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (d *Directory) RenameSeat(ctx context.Context, seatID uint, name string) error {
	return d.store.RenameSeat(ctx, seatID, name)
}

func hasHost(seats []Seat) bool {
	for _, seat := range seats {
		if seat.IsHost {
			return true
		}
	}
	return false
}

func seatIndex(seats []Seat, seatID uint) int {
	for i, seat := range seats {
		if seat.ID == seatID {
			return i
		}
	}
	return -1
}
