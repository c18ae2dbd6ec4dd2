package db

import "time"

type Topic struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uint      `gorm:"index;not null;index:idx_topics_room_game_round,priority:1"`
	SubroomID uint      `gorm:"index;not null"`
	ChainID   uint      `gorm:"index;not null"`
	Game      int       `gorm:"not null;default:0;index:idx_topics_room_game_round,priority:2"`
	Round     int       `gorm:"not null;index:idx_topics_room_game_round,priority:3"`
	Title     string    `gorm:"size:280;not null"`
	ImageURL  *string   `gorm:"size:2048"`
	Failed    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
