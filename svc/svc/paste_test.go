package svc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"vanishbin/cfg"
	"vanishbin/pkg/domain"
	"vanishbin/svc/cache"
	"vanishbin/svc/store"
)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{BackendTimeout: time.Second}
}

func newTestService(t *testing.T) *Paste {
	t.Helper()
	m, err := cache.NewMemory(1000)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPaste(m, testCfg())
	t.Cleanup(func() { p.Close() })
	return p
}

// stubBackend answers every call with the configured error.
type stubBackend struct {
	err     error
	block   bool
	creates int32
}

func (s *stubBackend) Name() string { return "stub" }
func (s *stubBackend) Create(ctx context.Context, p *domain.Paste) error {
	atomic.AddInt32(&s.creates, 1)
	return s.wait(ctx)
}
func (s *stubBackend) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	return nil, s.wait(ctx)
}
func (s *stubBackend) Ping(ctx context.Context) error { return s.wait(ctx) }
func (s *stubBackend) Close() error                   { return nil }
func (s *stubBackend) wait(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

var _ store.Backend = (*stubBackend)(nil)

func TestCreateAndConsume(t *testing.T) {
	p := newTestService(t)
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "hello", TTLSeconds: 60, MaxViews: 2, Now: 1000, NowSet: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ExpiresAt != 61_000 || created.MaxViews != 2 || created.ViewsUsed != 0 {
		t.Errorf("created = %+v", created)
	}
	got, err := p.Consume(ctx, created.ID, 1000)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if rv := got.RemainingViews(); rv == nil || *rv != 1 {
		t.Errorf("remaining views = %v, want 1", rv)
	}
}

func TestCreateUsesClockWhenNowUnset(t *testing.T) {
	p := newTestService(t)
	p.clock = func() time.Time { return time.UnixMilli(5_000) }
	created, err := p.Create(context.Background(), domain.CreateParams{Content: "x", TTLSeconds: 1})
	if err != nil {
		t.Fatal(err)
	}
	if created.CreatedAt != 5_000 || created.ExpiresAt != 6_000 {
		t.Errorf("created = %+v", created)
	}
}

func TestCreateHonoursExplicitZeroNow(t *testing.T) {
	p := newTestService(t)
	p.clock = func() time.Time { return time.UnixMilli(5_000_000) }
	ctx := context.Background()
	created, err := p.Create(ctx, domain.CreateParams{Content: "x", TTLSeconds: 10, Now: 0, NowSet: true})
	if err != nil {
		t.Fatal(err)
	}
	if created.CreatedAt != 0 || created.ExpiresAt != 10_000 {
		t.Fatalf("created = %+v, want created_at 0 and expires_at 10000", created)
	}
	if _, err := p.Consume(ctx, created.ID, 10_001); err != domain.ErrPasteNotFound {
		t.Errorf("Consume past deadline = %v, want ErrPasteNotFound", err)
	}
}

func TestCreateOnFullMemoryIsUnavailable(t *testing.T) {
	m, err := cache.NewMemory(1)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPaste(m, testCfg())
	t.Cleanup(func() { p.Close() })
	ctx := context.Background()
	first, err := p.Create(ctx, domain.CreateParams{Content: "keep", Now: 1, NowSet: true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Create(ctx, domain.CreateParams{Content: "overflow", Now: 1, NowSet: true})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("Create on full store = %v, want ErrBackendUnavailable", err)
	}
	if domain.Status(err) != 503 {
		t.Errorf("status = %d, want 503", domain.Status(err))
	}
	got, err := p.Consume(ctx, first.ID, 2)
	if err != nil || got.Content != "keep" {
		t.Errorf("existing paste after rejected create = %+v, %v", got, err)
	}
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	p := newTestService(t)
	tests := []struct {
		params domain.CreateParams
		want   error
	}{
		{domain.CreateParams{Content: ""}, domain.ErrInvalidContent},
		{domain.CreateParams{Content: " \n\t "}, domain.ErrInvalidContent},
		{domain.CreateParams{Content: "x", TTLSeconds: -1}, domain.ErrInvalidTTL},
		{domain.CreateParams{Content: "x", MaxViews: -3}, domain.ErrInvalidMaxViews},
	}
	for _, tt := range tests {
		if _, err := p.Create(context.Background(), tt.params); err != tt.want {
			t.Errorf("Create(%+v) error = %v, want %v", tt.params, err, tt.want)
		}
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	p := newTestService(t)
	ctx := context.Background()
	p.genID = func() (string, error) { return "aaaaaaaaaaaaaaaa", nil }
	if _, err := p.Create(ctx, domain.CreateParams{Content: "first", Now: 1, NowSet: true}); err != nil {
		t.Fatal(err)
	}

	ids := []string{"aaaaaaaaaaaaaaaa", "aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb"}
	var calls int
	p.genID = func() (string, error) {
		id := ids[calls]
		calls++
		return id, nil
	}
	created, err := p.Create(ctx, domain.CreateParams{Content: "second", Now: 1, NowSet: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID != "bbbbbbbbbbbbbbbb" || calls != 3 {
		t.Errorf("id = %s after %d generations", created.ID, calls)
	}
	first, err := p.Consume(ctx, "aaaaaaaaaaaaaaaa", 1)
	if err != nil || first.Content != "first" {
		t.Errorf("original paste clobbered: %+v, %v", first, err)
	}
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	stub := &stubBackend{err: domain.ErrIDCollision}
	p := NewPaste(stub, testCfg())
	_, err := p.Create(context.Background(), domain.CreateParams{Content: "x", Now: 1, NowSet: true})
	if !errors.Is(err, domain.ErrIDCollision) {
		t.Fatalf("error = %v, want ErrIDCollision", err)
	}
	if n := atomic.LoadInt32(&stub.creates); n != maxIDAttempts {
		t.Errorf("backend Create called %d times, want %d", n, maxIDAttempts)
	}
}

func TestCreateGenIDFailure(t *testing.T) {
	p := newTestService(t)
	p.genID = func() (string, error) { return "", errors.New("entropy exhausted") }
	_, err := p.Create(context.Background(), domain.CreateParams{Content: "x", Now: 1, NowSet: true})
	if err == nil || errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("error = %v, want an internal id generation error", err)
	}
}

func TestConsumeNotFoundVariants(t *testing.T) {
	p := newTestService(t)
	ctx := context.Background()
	once, err := p.Create(ctx, domain.CreateParams{Content: "x", MaxViews: 1, Now: 1, NowSet: true})
	if err != nil {
		t.Fatal(err)
	}
	timed, err := p.Create(ctx, domain.CreateParams{Content: "y", TTLSeconds: 1, Now: 1, NowSet: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Consume(ctx, once.ID, 1); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		name string
		id   string
		now  int64
	}{
		{"views exhausted", once.ID, 1},
		{"time expired", timed.ID, 1002},
		{"never created", "0123456789abcdef", 1},
		{"malformed id", "../../etc/passwd", 1},
	} {
		_, err := p.Consume(ctx, tc.id, tc.now)
		if err != domain.ErrPasteNotFound {
			t.Errorf("%s: error = %v, want exactly ErrPasteNotFound", tc.name, err)
		}
	}
}

func TestConsumeInfraErrorIsNotNotFound(t *testing.T) {
	p := NewPaste(&stubBackend{err: errors.New("connection refused")}, testCfg())
	_, err := p.Consume(context.Background(), "0123456789abcdef", 1)
	if errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("infra failure reported as not found: %v", err)
	}
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("error = %v, want backend unavailable", err)
	}
	var infra *domain.InfraError
	if !errors.As(err, &infra) || infra.Op != "consume" {
		t.Errorf("error = %#v, want InfraError for consume", err)
	}
}

func TestBackendTimeoutBoundsCalls(t *testing.T) {
	c := &cfg.Cfg{BackendTimeout: 20 * time.Millisecond}
	p := NewPaste(&stubBackend{block: true}, c)
	start := time.Now()
	_, err := p.Consume(context.Background(), "0123456789abcdef", 1)
	if !errors.Is(err, domain.ErrBackendUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want timed out infra error", err)
	}
	if _, err := p.Create(context.Background(), domain.CreateParams{Content: "x", Now: 1, NowSet: true}); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("Create error = %v, want infra error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("calls took %v", elapsed)
	}
}

func TestIsReachable(t *testing.T) {
	if !newTestService(t).IsReachable(context.Background()) {
		t.Error("memory backend should be reachable")
	}
	down := NewPaste(&stubBackend{err: errors.New("down")}, testCfg())
	if down.IsReachable(context.Background()) {
		t.Error("failing backend reported reachable")
	}
}

func TestConcurrentConsumeHonoursMaxViews(t *testing.T) {
	p := newTestService(t)
	ctx := context.Background()
	const maxViews, readers = 3, 50
	created, err := p.Create(ctx, domain.CreateParams{Content: "hot", MaxViews: maxViews, Now: 1, NowSet: true})
	if err != nil {
		t.Fatal(err)
	}
	var (
		wg       sync.WaitGroup
		ok       int64
		notFound int64
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Consume(ctx, created.ID, 1)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case err == domain.ErrPasteNotFound:
				atomic.AddInt64(&notFound, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != maxViews || notFound != readers-maxViews {
		t.Errorf("ok = %d, not found = %d", ok, notFound)
	}
}

func TestConcurrentCreateDistinctIDs(t *testing.T) {
	p := newTestService(t)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := p.Create(context.Background(), domain.CreateParams{Content: fmt.Sprintf("p%d", i), Now: 1, NowSet: true})
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			mu.Lock()
			ids[created.ID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if len(ids) != 100 {
		t.Errorf("distinct ids = %d, want 100", len(ids))
	}
}
