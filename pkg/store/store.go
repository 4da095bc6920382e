package store

import (
	"errors"

	"imagestudio/pkg/domain"
)

var (
	// ErrDuplicateEmail indicates the user email unique constraint fired.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence operations for users and generated images.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	DeleteUserByEmail(email string) error
	UserCount() (int, error)

	// generated images
	SaveImage(domain.GeneratedImage) error
	ListImages() ([]domain.GeneratedImage, error)
	ListImagesByOwner(email string) ([]domain.GeneratedImage, error)
	GetImage(id string) (domain.GeneratedImage, bool, error)
	DeleteImage(id string) error
	DeleteImagesByOwner(email string) (int64, error)
}
