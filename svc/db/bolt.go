package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"vanishbin/pkg/domain"
)

var pasteBucket = []byte("pastes")

// Bolt keeps pastes in a single-file bbolt database. bbolt serialises
// read-write transactions, so Consume runs entirely inside one Update.
type Bolt struct {
	db      *bolt.DB
	breaker breaker
}

func NewBolt(path string, timeout time.Duration) (*Bolt, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pasteBucket)
		return errors.Wrap(err, "create paste bucket")
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Name() string { return "bolt" }

func (b *Bolt) Create(ctx context.Context, p *domain.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.breaker.check(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		if bucket.Get([]byte(p.ID)) != nil {
			return domain.ErrIDCollision
		}
		return errors.Wrap(bucket.Put([]byte(p.ID), data), "save paste")
	})
	b.breaker.record(err)
	return err
}

func (b *Bolt) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.breaker.check(); err != nil {
		return nil, err
	}
	var (
		out     *domain.Paste
		verdict = domain.Alive
	)
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return domain.ErrPasteNotFound
		}
		var p domain.Paste
		if err := json.Unmarshal(raw, &p); err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		// an error return would roll the delete back
		if verdict = p.Evaluate(now); verdict != domain.Alive {
			return errors.Wrap(bucket.Delete([]byte(id)), "delete expired paste")
		}
		p.ViewsUsed++
		data, err := json.Marshal(&p)
		if err != nil {
			return errors.Wrap(err, "marshal paste")
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return errors.Wrap(err, "incr views")
		}
		out = &p
		return nil
	})
	b.breaker.record(err)
	if err != nil {
		return nil, err
	}
	if verdict != domain.Alive {
		return nil, &domain.ExpiredError{Reason: verdict}
	}
	return out, nil
}

func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("pastes bucket missing")
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
