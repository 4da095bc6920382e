package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"imagestudio/internal/util"
	"imagestudio/pkg/domain"
)

// MemoryOutbox is a channel-backed outbox for single-process deployments and
// tests. Semantics mirror RedisOutbox: bounded retries, terminal failed state.
type MemoryOutbox struct {
	mu         sync.Mutex
	entries    map[string]Entry
	queue      chan queuedRecord
	maxRetries int
	retryDelay time.Duration
}

type queuedRecord struct {
	entryID string
	img     domain.GeneratedImage
}

type MemoryConfig struct {
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
}

func NewMemoryOutbox(cfg MemoryConfig) *MemoryOutbox {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &MemoryOutbox{
		entries:    make(map[string]Entry),
		queue:      make(chan queuedRecord, buffer),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (o *MemoryOutbox) Enqueue(ctx context.Context, img domain.GeneratedImage) (Entry, error) {
	if img.ID == "" {
		return Entry{}, errors.New("image id required")
	}
	entry := Entry{
		ID:        util.NewID(),
		ImageID:   img.ID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	o.setEntry(entry)
	select {
	case o.queue <- queuedRecord{entryID: entry.ID, img: img}:
		return entry, nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

func (o *MemoryOutbox) Entry(_ context.Context, entryID string) (Entry, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[entryID]
	return entry, ok, nil
}

func (o *MemoryOutbox) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go o.consumeLoop(ctx, handler)
	}
}

func (o *MemoryOutbox) consumeLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-o.queue:
			o.process(ctx, rec, handler)
		}
	}
}

func (o *MemoryOutbox) process(ctx context.Context, rec queuedRecord, handler Handler) {
	entry := o.mark(rec.entryID, func(e *Entry) {
		e.Attempts++
		e.Status = StatusProcessing
	})
	err := handler(ctx, rec.img)
	if err == nil {
		o.mark(rec.entryID, func(e *Entry) {
			e.Status = StatusDone
			e.ErrorMessage = ""
		})
		return
	}
	if entry.Attempts >= o.maxRetries {
		o.mark(rec.entryID, func(e *Entry) {
			e.Status = StatusFailed
			e.ErrorMessage = err.Error()
		})
		return
	}
	o.mark(rec.entryID, func(e *Entry) {
		e.Status = StatusQueued
		e.ErrorMessage = err.Error()
	})
	select {
	case <-ctx.Done():
	case <-time.After(o.retryDelay):
		select {
		case o.queue <- rec:
		case <-ctx.Done():
		}
	}
}

func (o *MemoryOutbox) mark(entryID string, update func(*Entry)) Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.entries[entryID]
	if entry.ID == "" {
		entry = Entry{ID: entryID, CreatedAt: time.Now().UTC()}
	}
	update(&entry)
	entry.UpdatedAt = time.Now().UTC()
	o.entries[entryID] = entry
	return entry
}

func (o *MemoryOutbox) setEntry(entry Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[entry.ID] = entry
}
