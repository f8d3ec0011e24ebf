package svc

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"vanishbin/cfg"
	"vanishbin/metrics"
	"vanishbin/pkg/domain"
	"vanishbin/svc/store"
	"vanishbin/svc/util"
)

const maxIDAttempts = 5

type Paste struct {
	backend store.Backend
	cfg     *cfg.Cfg
	genID   func() (string, error)
	clock   func() time.Time
}

func NewPaste(backend store.Backend, c *cfg.Cfg) *Paste {
	if backend == nil || c == nil {
		panic("paste service: nil dependency (backend or cfg)")
	}
	return &Paste{
		backend: backend,
		cfg:     c,
		genID:   util.GenID,
		clock:   time.Now,
	}
}

// Now is the service clock in unix milliseconds.
func (p *Paste) Now() int64 {
	return p.clock().UnixMilli()
}

func (p *Paste) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.BackendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.BackendTimeout)
}

// Create stores a new paste under a fresh id. params.Now is used as given
// when params.NowSet is true, whatever its value; otherwise the service clock.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if strings.TrimSpace(params.Content) == "" {
		return nil, domain.ErrInvalidContent
	}
	if params.TTLSeconds < 0 {
		return nil, domain.ErrInvalidTTL
	}
	if params.MaxViews < 0 {
		return nil, domain.ErrInvalidMaxViews
	}
	if !params.NowSet {
		params.Now = p.Now()
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := p.genID()
		if err != nil {
			return nil, errors.Wrap(err, "gen id")
		}
		paste := domain.NewPaste(id, params)
		bctx, cancel := p.withTimeout(ctx)
		err = p.backend.Create(bctx, paste)
		cancel()
		if err == nil {
			metrics.PasteCreated.Inc()
			util.Debug().
				Str("paste_id", id).
				Str("backend", p.backend.Name()).
				Int64("ttl_seconds", params.TTLSeconds).
				Int64("max_views", params.MaxViews).
				Int("content_bytes", len(params.Content)).
				Msg("paste stored")
			return paste, nil
		}
		if errors.Is(err, domain.ErrIDCollision) {
			metrics.IDCollisions.Inc()
			util.Warn().Str("paste_id", id).Int("attempt", attempt+1).Msg("id collision, regenerating")
			continue
		}
		metrics.BackendErrors.WithLabelValues(p.backend.Name(), "create").Inc()
		return nil, domain.Infra("create", err)
	}
	return nil, errors.Wrapf(domain.ErrIDCollision, "no free id after %d attempts", maxIDAttempts)
}

// Consume spends one view of id at now (unix ms). Unknown, expired and
// exhausted pastes all come back as domain.ErrPasteNotFound; anything the
// backend could not answer is a domain.InfraError.
func (p *Paste) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	if !util.ValidID(id) {
		metrics.PasteNotFound.Inc()
		return nil, domain.ErrPasteNotFound
	}
	bctx, cancel := p.withTimeout(ctx)
	defer cancel()
	paste, err := p.backend.Consume(bctx, id, now)
	if err == nil {
		metrics.PasteConsumed.Inc()
		return paste, nil
	}
	var expired *domain.ExpiredError
	if errors.As(err, &expired) {
		metrics.PasteExpired.WithLabelValues(expired.Reason.String()).Inc()
		metrics.PasteNotFound.Inc()
		util.Debug().Str("paste_id", id).Str("reason", expired.Reason.String()).Msg("paste expired on read")
		return nil, domain.ErrPasteNotFound
	}
	if errors.Is(err, domain.ErrPasteNotFound) {
		metrics.PasteNotFound.Inc()
		return nil, domain.ErrPasteNotFound
	}
	metrics.BackendErrors.WithLabelValues(p.backend.Name(), "consume").Inc()
	return nil, domain.Infra("consume", err)
}

// IsReachable probes the backend. It never returns an error.
func (p *Paste) IsReachable(ctx context.Context) bool {
	bctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.backend.Ping(bctx); err != nil {
		metrics.BackendUp.Set(0)
		metrics.BackendErrors.WithLabelValues(p.backend.Name(), "ping").Inc()
		util.Warn().Err(err).Str("backend", p.backend.Name()).Msg("backend unreachable")
		return false
	}
	metrics.BackendUp.Set(1)
	return true
}

func (p *Paste) Close() error {
	return p.backend.Close()
}
