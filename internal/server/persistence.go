package server

import (
	"context"
	"encoding/json"
	"errors"

	"sketchbook/internal/db"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists rooms and seats in Postgres. Rooms and seats are soft
// deleted through their delete_at column.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

func (s *GormStore) CreateRoom(ctx context.Context) (Room, error) {
	record := db.Room{Phase: phaseLobby}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Room{}, err
	}
	return roomFromRecord(record), nil
}

func (s *GormStore) GetRoom(ctx context.Context, id uint) (Room, error) {
	var record db.Room
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return Room{}, notFound(err, ErrRoomNotFound)
	}
	return roomFromRecord(record), nil
}

func (s *GormStore) UpdateRoom(ctx context.Context, room Room) error {
	result := s.db.WithContext(ctx).Model(&db.Room{}).Where("id = ?", room.ID).Updates(map[string]any{
		"phase":        room.Phase,
		"game":         room.Game,
		"round":        room.Round,
		"complete_num": room.CompleteNum,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *GormStore) DeleteRoom(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&db.Room{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// CreateSeat counts and inserts inside one transaction holding a row lock on
// the room, so concurrent joins cannot both take the last seat. A unique
// violation on (room_id, position) means another writer won the race; the
// insert is retried once against the fresh count.
func (s *GormStore) CreateSeat(ctx context.Context, roomID uint, maxSeats int) (Seat, error) {
	seat, err := s.createSeat(ctx, roomID, maxSeats)
	if err != nil && isUniqueViolation(err) {
		seat, err = s.createSeat(ctx, roomID, maxSeats)
		if err != nil && isUniqueViolation(err) {
			return Seat{}, ErrRoomFull
		}
	}
	return seat, err
}

func (s *GormStore) createSeat(ctx context.Context, roomID uint, maxSeats int) (Seat, error) {
	var created db.Subroom
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room db.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, roomID).Error; err != nil {
			return notFound(err, ErrRoomNotFound)
		}
		var live int64
		if err := tx.Model(&db.Subroom{}).Where("room_id = ?", roomID).Count(&live).Error; err != nil {
			return err
		}
		if int(live) >= maxSeats {
			return ErrRoomFull
		}
		var lastPosition int
		if err := tx.Unscoped().Model(&db.Subroom{}).
			Where("room_id = ?", roomID).
			Select("COALESCE(MAX(position), 0)").
			Scan(&lastPosition).Error; err != nil {
			return err
		}
		created = db.Subroom{
			RoomID:      roomID,
			Position:    lastPosition + 1,
			FirstPlayer: defaultSeatName(lastPosition + 1),
			IsHost:      live == 0,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return Seat{}, err
	}
	return seatFromRecord(created), nil
}

func (s *GormStore) GetSeat(ctx context.Context, id uint) (Seat, error) {
	var record db.Subroom
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return Seat{}, notFound(err, ErrSeatNotFound)
	}
	return seatFromRecord(record), nil
}

func (s *GormStore) ListLiveSeats(ctx context.Context, roomID uint) ([]Seat, error) {
	var records []db.Subroom
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("position asc, id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	seats := make([]Seat, 0, len(records))
	for _, record := range records {
		seats = append(seats, seatFromRecord(record))
	}
	return seats, nil
}

func (s *GormStore) CountLiveSeats(ctx context.Context, roomID uint) (int, error) {
	var live int64
	if err := s.db.WithContext(ctx).Model(&db.Subroom{}).Where("room_id = ?", roomID).Count(&live).Error; err != nil {
		return 0, err
	}
	return int(live), nil
}

func (s *GormStore) RenameSeat(ctx context.Context, id uint, name string) error {
	return s.updateSeat(ctx, id, "first_player", name)
}

func (s *GormStore) SetHost(ctx context.Context, id uint) error {
	return s.updateSeat(ctx, id, "is_host", true)
}

func (s *GormStore) updateSeat(ctx context.Context, id uint, column string, value any) error {
	result := s.db.WithContext(ctx).Model(&db.Subroom{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSeatNotFound
	}
	return nil
}

func (s *GormStore) DeleteSeat(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&db.Subroom{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSeatNotFound
	}
	return nil
}

func (s *GormStore) CreateTopic(ctx context.Context, topic *Topic) error {
	if topic == nil {
		return errors.New("topic is nil")
	}
	record := db.Topic{
		RoomID:    topic.RoomID,
		SubroomID: topic.SeatID,
		ChainID:   topic.ChainID,
		Game:      topic.Game,
		Round:     topic.Round,
		Title:     topic.Title,
		ImageURL:  topic.ImageURL,
		Failed:    topic.Failed,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	*topic = topicFromRecord(record)
	return nil
}

func (s *GormStore) LatestTopic(ctx context.Context, seatID uint) (Topic, error) {
	var record db.Topic
	if err := s.db.WithContext(ctx).
		Where("subroom_id = ?", seatID).
		Order("created_at desc, id desc").
		First(&record).Error; err != nil {
		return Topic{}, notFound(err, ErrTopicNotFound)
	}
	return topicFromRecord(record), nil
}

func (s *GormStore) UpdateTopicTitle(ctx context.Context, id uint, title string) error {
	return s.updateTopic(ctx, id, map[string]any{"title": title})
}

func (s *GormStore) UpdateTopicImage(ctx context.Context, id uint, url string, failed bool) error {
	return s.updateTopic(ctx, id, map[string]any{"image_url": url, "failed": failed})
}

func (s *GormStore) updateTopic(ctx context.Context, id uint, values map[string]any) error {
	result := s.db.WithContext(ctx).Model(&db.Topic{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTopicNotFound
	}
	return nil
}

func (s *GormStore) ListRoundTopics(ctx context.Context, roomID uint, game, round int) ([]Topic, error) {
	var records []db.Topic
	if err := s.db.WithContext(ctx).
		Where("room_id = ? AND game = ? AND round = ?", roomID, game, round).
		Order("id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return topicsFromRecords(records), nil
}

func (s *GormStore) ListChainTopics(ctx context.Context, roomID uint, game int, chainID uint) ([]Topic, error) {
	var records []db.Topic
	if err := s.db.WithContext(ctx).
		Where("room_id = ? AND game = ? AND chain_id = ?", roomID, game, chainID).
		Order("round asc, id asc").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return topicsFromRecords(records), nil
}

func (s *GormStore) RecordEvent(ctx context.Context, roomID, seatID uint, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := db.Event{
		RoomID:  roomID,
		Type:    eventType,
		Payload: datatypes.JSON(data),
	}
	if seatID != 0 {
		event.SubroomID = &seatID
	}
	return s.db.WithContext(ctx).Create(&event).Error
}

func roomFromRecord(record db.Room) Room {
	return Room{
		ID:          record.ID,
		Phase:       record.Phase,
		Game:        record.Game,
		Round:       record.Round,
		CompleteNum: record.CompleteNum,
		CreatedAt:   record.CreatedAt,
	}
}

func seatFromRecord(record db.Subroom) Seat {
	return Seat{
		ID:        record.ID,
		RoomID:    record.RoomID,
		Position:  record.Position,
		Name:      record.FirstPlayer,
		IsHost:    record.IsHost,
		CreatedAt: record.CreatedAt,
	}
}

func topicFromRecord(record db.Topic) Topic {
	return Topic{
		ID:        record.ID,
		RoomID:    record.RoomID,
		SeatID:    record.SubroomID,
		ChainID:   record.ChainID,
		Game:      record.Game,
		Round:     record.Round,
		Title:     record.Title,
		ImageURL:  record.ImageURL,
		Failed:    record.Failed,
		CreatedAt: record.CreatedAt,
	}
}

func topicsFromRecords(records []db.Topic) []Topic {
	topics := make([]Topic, 0, len(records))
	for _, record := range records {
		topics = append(topics, topicFromRecord(record))
	}
	return topics
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ Storage = (*GormStore)(nil)
