package domain

import (
	"math"
	"time"
)

// NoLimit marks an absent expires_at or max_views.
const NoLimit int64 = -1

// Paste is the stored record. Timestamps are unix milliseconds.
type Paste struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	MaxViews  int64  `json:"max_views"`
	ViewsUsed int64  `json:"views_used"`
}

// CreateParams carries validated create input. Zero TTLSeconds or MaxViews
// means the limit is absent; Now is the creation instant in unix ms and is
// honoured by the service only when NowSet is true.
type CreateParams struct {
	Content    string
	TTLSeconds int64
	MaxViews   int64
	Now        int64
	NowSet     bool
}

// NewPaste builds a fresh record with no views consumed.
func NewPaste(id string, params CreateParams) *Paste {
	p := &Paste{
		ID:        id,
		Content:   params.Content,
		CreatedAt: params.Now,
		ExpiresAt: NoLimit,
		MaxViews:  NoLimit,
	}
	if params.TTLSeconds > 0 {
		p.ExpiresAt = expiryAt(params.Now, params.TTLSeconds)
	}
	if params.MaxViews > 0 {
		p.MaxViews = params.MaxViews
	}
	return p
}

// expiryAt is now plus ttlSeconds, saturating at math.MaxInt64.
func expiryAt(now, ttlSeconds int64) int64 {
	if ttlSeconds > (math.MaxInt64-max(now, 0))/1000 {
		return math.MaxInt64
	}
	return now + ttlSeconds*1000
}

func (p *Paste) HasExpiry() bool    { return p.ExpiresAt != NoLimit }
func (p *Paste) HasViewLimit() bool { return p.MaxViews != NoLimit }

// RemainingViews is max_views - views_used floored at zero, nil when unlimited.
func (p *Paste) RemainingViews() *int64 {
	if !p.HasViewLimit() {
		return nil
	}
	left := p.MaxViews - p.ViewsUsed
	if left < 0 {
		left = 0
	}
	return &left
}

func (p *Paste) ExpiresAtTime() *time.Time {
	if !p.HasExpiry() {
		return nil
	}
	t := time.UnixMilli(p.ExpiresAt).UTC()
	return &t
}

// Verdict is the outcome of the expiry policy.
type Verdict int

const (
	Alive Verdict = iota
	ExpiredByTime
	ExpiredByViews
)

func (v Verdict) String() string {
	switch v {
	case Alive:
		return "alive"
	case ExpiredByTime:
		return "time"
	case ExpiredByViews:
		return "views"
	default:
		return "unknown"
	}
}

// Evaluate decides whether a paste may be read at now. A read at exactly
// expiresAt is still allowed; the read that would take viewsUsed past
// maxViews is not.
func Evaluate(now, expiresAt, maxViews, viewsUsed int64) Verdict {
	if expiresAt != NoLimit && now > expiresAt {
		return ExpiredByTime
	}
	if maxViews != NoLimit && viewsUsed >= maxViews {
		return ExpiredByViews
	}
	return Alive
}

// Evaluate applies the expiry policy to p.
func (p *Paste) Evaluate(now int64) Verdict {
	return Evaluate(now, p.ExpiresAt, p.MaxViews, p.ViewsUsed)
}
