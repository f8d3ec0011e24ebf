package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"vanishbin/pkg/domain"
)

// OpenFunc constructs a backend.
type OpenFunc func(ctx context.Context) (Backend, error)

// Lazy is the process-wide backend handle. The backend is opened on first
// use and reused afterwards. Concurrent first callers share a single open;
// a failed open is not cached, so the next call tries again.
type Lazy struct {
	name  string
	open  OpenFunc
	group singleflight.Group

	mu      sync.RWMutex
	backend Backend
	closed  bool
}

func NewLazy(name string, open OpenFunc) *Lazy {
	if open == nil {
		panic("store: nil open func")
	}
	return &Lazy{name: name, open: open}
}

var errClosed = errors.New("backend handle closed")

func (l *Lazy) get(ctx context.Context) (Backend, error) {
	l.mu.RLock()
	b, closed := l.backend, l.closed
	l.mu.RUnlock()
	if closed {
		return nil, errClosed
	}
	if b != nil {
		return b, nil
	}
	ch := l.group.DoChan("open", func() (interface{}, error) {
		l.mu.RLock()
		existing := l.backend
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		// detached from the first caller so its cancellation does not fail
		// everyone sharing the open
		opened, err := l.open(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			opened.Close()
			return nil, errClosed
		}
		l.backend = opened
		return opened, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Backend), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Lazy) Name() string { return l.name }

func (l *Lazy) Create(ctx context.Context, p *domain.Paste) error {
	b, err := l.get(ctx)
	if err != nil {
		return errors.Wrap(err, "open backend")
	}
	return b.Create(ctx, p)
}

func (l *Lazy) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	b, err := l.get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open backend")
	}
	return b.Consume(ctx, id, now)
}

func (l *Lazy) Ping(ctx context.Context) error {
	b, err := l.get(ctx)
	if err != nil {
		return errors.Wrap(err, "open backend")
	}
	return b.Ping(ctx)
}

// Close releases the backend if it was ever opened. Later calls fail.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.backend == nil {
		return nil
	}
	err := l.backend.Close()
	l.backend = nil
	return err
}
