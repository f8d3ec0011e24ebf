// Package store defines the contract every paste backend implements and
// picks the backend named in the configuration.
package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"vanishbin/cfg"
	"vanishbin/pkg/domain"
	"vanishbin/svc/cache"
	"vanishbin/svc/db"
)

// Backend persists pastes. Implementations must make Consume atomic per id:
// the expiry check and the delete-or-increment that follows it cannot
// interleave with another Consume of the same id, in this process or any
// other sharing the substrate.
type Backend interface {
	Name() string
	// Create stores p as given. It returns domain.ErrIDCollision instead of
	// overwriting an existing id.
	Create(ctx context.Context, p *domain.Paste) error
	// Consume evaluates the expiry policy at now (unix ms). An expired paste is
	// deleted and reported as a domain.ExpiredError; a live one has ViewsUsed
	// incremented and is returned as it stands after the increment. Unknown ids
	// yield domain.ErrPasteNotFound.
	Consume(ctx context.Context, id string, now int64) (*domain.Paste, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*cache.Memory)(nil)
	_ Backend = (*db.Redis)(nil)
	_ Backend = (*db.SQLite)(nil)
	_ Backend = (*db.Bolt)(nil)
	_ Backend = (*Lazy)(nil)
)

// Open constructs the backend selected by c.StoreBackend.
func Open(ctx context.Context, c *cfg.Cfg) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch c.StoreBackend {
	case cfg.BackendMemory:
		b, err = asBackend(cache.NewMemory(c.MemoryMaxPastes))
	case cfg.BackendRedis:
		b, err = asBackend(db.NewRedis(ctx, c.RedisURL, c))
	case cfg.BackendSQLite:
		b, err = asBackend(db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout))
	case cfg.BackendBolt:
		b, err = asBackend(db.NewBolt(c.BoltPath, c.DBQueryTimeout))
	default:
		return nil, fmt.Errorf("unsupported store backend %q", c.StoreBackend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend", c.StoreBackend)
	}
	return b, nil
}

// asBackend keeps a failed constructor's typed nil out of the interface.
func asBackend[B Backend](b B, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
