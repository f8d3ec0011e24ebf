package db

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"vanishbin/pkg/domain"
)

const (
	defaultMaxOpenConns = 16
	defaultMaxIdleConns = 4
	defaultQueryTimeout = 5 * time.Second
	maxSwapAttempts     = 3
)

// errLostSwap means another writer changed views_used between our read and
// our update. With immediate transactions this should not happen; the guard
// keeps the update honest even if the lock mode is ever changed.
var errLostSwap = errors.New("views_used changed during consume")

type SQLite struct {
	db           *sql.DB
	breaker      breaker
	queryTimeout time.Duration
	walQuit      chan struct{}
	walDone      chan struct{}
	closeOnce    sync.Once
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

// sqliteDSN makes every pooled connection start its transactions with
// BEGIN IMMEDIATE, so the read in Consume already holds the write lock.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	inMemory := path == ":memory:"
	if inMemory {
		// every connection to :memory: is a separate database
		maxOpenConns, maxIdleConns = 1, 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if !inMemory {
		db.SetConnMaxLifetime(1 * time.Hour)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	if !inMemory {
		s.walQuit = make(chan struct{})
		s.walDone = make(chan struct{})
		go s.walMaintenance(checkpointInterval)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		max_views INTEGER,
		views_used INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) Name() string { return "sqlite" }

func nullable(v int64) sql.NullInt64 {
	if v == domain.NoLimit {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func fromNullable(v sql.NullInt64) int64 {
	if !v.Valid {
		return domain.NoLimit
	}
	return v.Int64
}

func (s *SQLite) Create(ctx context.Context, p *domain.Paste) error {
	if err := s.breaker.check(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, content, created_at, expires_at, max_views, views_used)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Content, p.CreatedAt, nullable(p.ExpiresAt), nullable(p.MaxViews), p.ViewsUsed,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		err = domain.ErrIDCollision
	}
	s.breaker.record(err)
	if err == domain.ErrIDCollision {
		return err
	}
	return errors.Wrap(err, "db create")
}

func (s *SQLite) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	if err := s.breaker.check(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var (
		p   *domain.Paste
		err error
	)
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		p, err = s.consumeTx(queryCtx, id, now)
		if !errors.Is(err, errLostSwap) {
			break
		}
	}
	s.breaker.record(err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLite) consumeTx(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin consume")
	}
	defer tx.Rollback()

	var (
		p         = domain.Paste{ID: id}
		expiresAt sql.NullInt64
		maxViews  sql.NullInt64
	)
	q := `SELECT content, created_at, expires_at, max_views, views_used FROM pastes WHERE id = ?`
	err = tx.QueryRowContext(ctx, q, id).Scan(&p.Content, &p.CreatedAt, &expiresAt, &maxViews, &p.ViewsUsed)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	p.ExpiresAt = fromNullable(expiresAt)
	p.MaxViews = fromNullable(maxViews)

	if v := p.Evaluate(now); v != domain.Alive {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pastes WHERE id = ?`, id); err != nil {
			return nil, errors.Wrap(err, "delete expired paste")
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(err, "commit delete")
		}
		return nil, &domain.ExpiredError{Reason: v}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE pastes SET views_used = views_used + 1 WHERE id = ? AND views_used = ?`,
		id, p.ViewsUsed,
	)
	if err != nil {
		return nil, errors.Wrap(err, "incr views")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "incr views")
	}
	if n != 1 {
		return nil, errLostSwap
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit consume")
	}
	p.ViewsUsed++
	return &p, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var result int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.walQuit != nil {
			close(s.walQuit)
			<-s.walDone
		}
		err = s.db.Close()
	})
	return err
}
