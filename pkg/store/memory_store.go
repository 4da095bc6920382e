package store

import (
	"sort"
	"sync"

	"imagestudio/pkg/domain"
)

// MemoryStore keeps records in-process. It mirrors GormStore semantics,
// including the email unique constraint, and backs tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User // key: user ID
	email  map[string]string      // email -> user ID
	images map[string]domain.GeneratedImage
	order  []string // image IDs in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		email:  make(map[string]string),
		images: make(map[string]domain.GeneratedImage),
	}
}

// SaveUser stores or replaces a user, rejecting duplicate emails.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.email[u.Email]; ok && existingID != u.ID {
		return ErrDuplicateEmail
	}
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	user, ok := m.users[id]
	return user, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	return user, ok, nil
}

// ListUsers returns users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) DeleteUserByEmail(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return ErrNotFound
	}
	delete(m.email, email)
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SaveImage stores or replaces a generated image record.
func (m *MemoryStore) SaveImage(img domain.GeneratedImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.images[img.ID]; !exists {
		m.order = append(m.order, img.ID)
	}
	m.images[img.ID] = img
	return nil
}

// ListImages returns all records, newest first.
func (m *MemoryStore) ListImages() ([]domain.GeneratedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.GeneratedImage, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if img, ok := m.images[m.order[i]]; ok {
			res = append(res, img)
		}
	}
	return res, nil
}

// ListImagesByOwner returns a user's records, newest first.
func (m *MemoryStore) ListImagesByOwner(email string) ([]domain.GeneratedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.GeneratedImage, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		if img, ok := m.images[m.order[i]]; ok && img.UserEmail == email {
			res = append(res, img)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetImage(id string) (domain.GeneratedImage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	return img, ok, nil
}

func (m *MemoryStore) DeleteImage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[id]; !ok {
		return ErrNotFound
	}
	delete(m.images, id)
	return nil
}

func (m *MemoryStore) DeleteImagesByOwner(email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, img := range m.images {
		if img.UserEmail == email {
			delete(m.images, id)
			deleted++
		}
	}
	return deleted, nil
}
