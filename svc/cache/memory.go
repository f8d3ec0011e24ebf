// Package cache holds the in-process paste backend.
package cache

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"vanishbin/pkg/domain"
)

const maxMemoryPastes = 1_000_000

// ErrFull is returned by Create once the store holds its configured number
// of pastes. Live pastes are never evicted to make room.
var ErrFull = errors.New("memory store full")

// Memory keeps pastes in a bounded LRU map. The bound is enforced in Create,
// so the cache never evicts on its own. Every Consume runs its
// check-then-mutate under mu, so one Memory is safe for any number of
// goroutines but is not shared between processes.
type Memory struct {
	c    *lru.Cache[string, domain.Paste]
	size int
	mu   sync.Mutex
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > maxMemoryPastes {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, domain.Paste](size)
	if err != nil {
		return nil, err
	}
	return &Memory{c: c, size: size}, nil
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Create(ctx context.Context, p *domain.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c.Contains(p.ID) {
		return domain.ErrIDCollision
	}
	if m.c.Len() >= m.size {
		return ErrFull
	}
	m.c.Add(p.ID, *p)
	return nil
}

func (m *Memory) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.c.Get(id)
	if !ok {
		return nil, domain.ErrPasteNotFound
	}
	if v := p.Evaluate(now); v != domain.Alive {
		m.c.Remove(id)
		return nil, &domain.ExpiredError{Reason: v}
	}
	p.ViewsUsed++
	m.c.Add(id, p)
	return &p, nil
}

// Ping always succeeds; process memory is reachable while the process runs.
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Len() int {
	return m.c.Len()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Purge()
	return nil
}
