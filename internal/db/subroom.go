package db

import (
	"time"

	"gorm.io/gorm"
)

// Subroom is one seat inside a room. Position is never reused within a room,
// so the unique index also guards against two concurrent joins racing for the
// same slot.
type Subroom struct {
	ID          uint           `gorm:"primaryKey"`
	RoomID      uint           `gorm:"index;not null;uniqueIndex:idx_subrooms_room_position"`
	Position    int            `gorm:"not null;uniqueIndex:idx_subrooms_room_position"`
	FirstPlayer string         `gorm:"size:64;not null"`
	IsHost      bool           `gorm:"not null;default:false"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
	DeleteAt    gorm.DeletedAt `gorm:"column:delete_at;index"`
}
