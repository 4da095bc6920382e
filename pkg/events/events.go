package events

import (
	"context"
	"time"

	"imagestudio/pkg/domain"
)

// Event names emitted on the bus.
const (
	ImageCreated = "image.created"
	ImageDeleted = "image.deleted"
	UserDeleted  = "user.deleted"
)

// ImageEvent is the payload for image lifecycle events.
type ImageEvent struct {
	ImageID    string    `json:"imageId"`
	FileID     string    `json:"fileId,omitempty"`
	URL        string    `json:"url,omitempty"`
	UserEmail  string    `json:"userEmail"`
	OccurredAt time.Time `json:"occurredAt"`
}

// UserEvent is the payload for user lifecycle events.
type UserEvent struct {
	Email      string          `json:"email"`
	Role       domain.UserRole `json:"role,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Publisher emits domain events. Implementations must tolerate being handed a
// canceled context and report delivery failures without blocking callers
// indefinitely.
type Publisher interface {
	PublishImage(ctx context.Context, name string, evt ImageEvent) error
	PublishUser(ctx context.Context, name string, evt UserEvent) error
	Close() error
}

// NopPublisher drops all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishImage(context.Context, string, ImageEvent) error { return nil }
func (NopPublisher) PublishUser(context.Context, string, UserEvent) error   { return nil }
func (NopPublisher) Close() error                                           { return nil }
