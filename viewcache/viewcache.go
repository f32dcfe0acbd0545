// Package viewcache keeps each user's pet list between dashboard renders.
// Every successful mutation invalidates the owner's entry.
package viewcache

import (
	"context"
	"sync"
	"time"

	"petsoft/models"
)

type Views interface {
	// Pets returns the cached list and whether it was present.
	Pets(ctx context.Context, userID string) ([]models.Pet, bool, error)
	StorePets(ctx context.Context, userID string, pets []models.Pet) error
	Invalidate(ctx context.Context, userID string) error
}

type memoryEntry struct {
	pets    []models.Pet
	expires time.Time
}

// Memory is the process-local cache used when no Redis is configured.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Pets(ctx context.Context, userID string) ([]models.Pet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expires) {
		delete(m.entries, userID)
		return nil, false, nil
	}
	return append([]models.Pet(nil), e.pets...), true, nil
}

func (m *Memory) StorePets(ctx context.Context, userID string, pets []models.Pet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = memoryEntry{
		pets:    append([]models.Pet{}, pets...),
		expires: m.now().Add(m.ttl),
	}
	return nil
}

func (m *Memory) Invalidate(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}
