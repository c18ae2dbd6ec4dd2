package db

import (
	"time"

	"gorm.io/gorm"
)

type Room struct {
	ID          uint           `gorm:"primaryKey"`
	Phase       string         `gorm:"size:32;not null;default:lobby"`
	Game        int            `gorm:"not null;default:0"`
	Round       int            `gorm:"not null;default:0"`
	CompleteNum int            `gorm:"not null;default:0"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
	DeleteAt    gorm.DeletedAt `gorm:"column:delete_at;index"`
}
