package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type GeneratedImageModel struct {
	ID           string `gorm:"primaryKey"`
	FileID       string
	URL          string `gorm:"not null"`
	ThumbnailURL string `gorm:"not null"`
	Prompt       string `gorm:"type:text;not null"`
	Guidance     float64
	Seed         *int64
	Height       int
	Width        int
	Steps        int
	Strength     float64
	UserEmail    string         `gorm:"index"`
	Params       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null;index"`
}
