package outbox

import (
	"context"
	"time"

	"imagestudio/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Entry tracks a single pending image-record write.
type Entry struct {
	ID           string    `json:"id"`
	ImageID      string    `json:"imageId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler persists one generated image record. A non-nil error requeues the
// entry until the retry budget is exhausted.
type Handler func(ctx context.Context, img domain.GeneratedImage) error

// Outbox decouples responding to the client from persisting the image record.
type Outbox interface {
	Enqueue(ctx context.Context, img domain.GeneratedImage) (Entry, error)
	Entry(ctx context.Context, entryID string) (Entry, bool, error)
	Start(ctx context.Context, concurrency int, handler Handler)
}
