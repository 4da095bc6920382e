package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GeneratedImage is the persisted record of a successful generation.
// UserEmail is a soft reference to the owning user and stays empty for
// anonymous generations.
type GeneratedImage struct {
	ID           string            `json:"id"`
	FileID       string            `json:"fileId,omitempty"`
	URL          string            `json:"url"`
	ThumbnailURL string            `json:"thumbnailUrl"`
	Prompt       string            `json:"prompt"`
	Guidance     float64           `json:"guidance,omitempty"`
	Seed         *int64            `json:"seed,omitempty"`
	Height       int               `json:"height,omitempty"`
	Width        int               `json:"width,omitempty"`
	Steps        int               `json:"steps,omitempty"`
	Strength     float64           `json:"strength,omitempty"`
	UserEmail    string            `json:"userEmail,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// GeneratedResult is the canonical shape every provider adapter yields after
// the generated bytes have been uploaded to the asset store.
type GeneratedResult struct {
	FileID       string `json:"fileId"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	FileName     string `json:"fileName"`
	FilePath     string `json:"filePath"`
}
