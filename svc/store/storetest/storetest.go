// Package storetest is the behavioural test-suite every Backend must pass.
package storetest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"vanishbin/pkg/domain"
	"vanishbin/svc/util"
)

// Backend is the part of Backend the suite exercises. It is declared
// here so backend packages can run the suite without importing store.
type Backend interface {
	Create(ctx context.Context, p *domain.Paste) error
	Consume(ctx context.Context, id string, now int64) (*domain.Paste, error)
	Ping(ctx context.Context) error
}

// Factory returns a fresh, empty backend. Cleanup is the factory's business
// (t.Cleanup).
type Factory func(t *testing.T) Backend

// Run executes the contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"RoundTrip", testRoundTrip},
		{"MaxViewsOne", testMaxViewsOne},
		{"TTLBoundary", testTTLBoundary},
		{"NoLimits", testNoLimits},
		{"UnknownID", testUnknownID},
		{"DeletedStaysDeleted", testDeletedStaysDeleted},
		{"IDCollision", testIDCollision},
		{"ContentVerbatim", testContentVerbatim},
		{"ConcurrentMaxViews", testConcurrentMaxViews},
		{"ConcurrentMaxViewsOne", testConcurrentMaxViewsOne},
		{"ConcurrentUnlimited", testConcurrentUnlimited},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

func create(t *testing.T, b Backend, params domain.CreateParams) *domain.Paste {
	t.Helper()
	id, err := util.GenID()
	if err != nil {
		t.Fatalf("GenID failed: %v", err)
	}
	p := domain.NewPaste(id, params)
	if err := b.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return p
}

func mustConsume(t *testing.T, b Backend, id string, now int64) *domain.Paste {
	t.Helper()
	p, err := b.Consume(context.Background(), id, now)
	if err != nil {
		t.Fatalf("Consume(%s, %d) failed: %v", id, now, err)
	}
	return p
}

func expectNotFound(t *testing.T, b Backend, id string, now int64) error {
	t.Helper()
	p, err := b.Consume(context.Background(), id, now)
	if err == nil {
		t.Fatalf("Consume(%s, %d) = %+v, want not found", id, now, p)
	}
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("Consume(%s, %d) error = %v, want not found", id, now, err)
	}
	if errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("not found must not be reported as an infrastructure error: %v", err)
	}
	return err
}

func expectReason(t *testing.T, err error, want domain.Verdict) {
	t.Helper()
	var exp *domain.ExpiredError
	if !errors.As(err, &exp) {
		t.Fatalf("error %v does not carry an expiry reason", err)
	}
	if exp.Reason != want {
		t.Errorf("expiry reason = %s, want %s", exp.Reason, want)
	}
}

func testRoundTrip(t *testing.T, b Backend) {
	const now = 1_700_000_000_000
	created := create(t, b, domain.CreateParams{Content: "hello", TTLSeconds: 60, MaxViews: 2, Now: now})

	first := mustConsume(t, b, created.ID, now)
	if first.Content != "hello" || first.ViewsUsed != 1 {
		t.Errorf("first consume = %+v, want content hello and 1 view", first)
	}
	if first.ID != created.ID || first.CreatedAt != now || first.ExpiresAt != now+60_000 || first.MaxViews != 2 {
		t.Errorf("first consume lost metadata: %+v", first)
	}
	second := mustConsume(t, b, created.ID, now+1)
	if second.ViewsUsed != 2 {
		t.Errorf("second consume views = %d, want 2", second.ViewsUsed)
	}
	if rv := second.RemainingViews(); rv == nil || *rv != 0 {
		t.Errorf("remaining views after last read = %v, want 0", rv)
	}
	err := expectNotFound(t, b, created.ID, now+2)
	expectReason(t, err, domain.ExpiredByViews)
}

func testMaxViewsOne(t *testing.T, b Backend) {
	p := create(t, b, domain.CreateParams{Content: "once", MaxViews: 1, Now: 1000})
	got := mustConsume(t, b, p.ID, 1000)
	if got.ViewsUsed != 1 {
		t.Errorf("views = %d, want 1", got.ViewsUsed)
	}
	expectNotFound(t, b, p.ID, 1000)
}

func testTTLBoundary(t *testing.T, b Backend) {
	const created = 5_000
	p := create(t, b, domain.CreateParams{Content: "ttl", TTLSeconds: 10, Now: created})
	deadline := int64(created + 10*1000)

	for i := 0; i < 2; i++ {
		got := mustConsume(t, b, p.ID, deadline)
		if got.ViewsUsed != int64(i+1) {
			t.Errorf("read %d at deadline: views = %d", i+1, got.ViewsUsed)
		}
	}
	err := expectNotFound(t, b, p.ID, deadline+1)
	expectReason(t, err, domain.ExpiredByTime)
	expectNotFound(t, b, p.ID, deadline+1)
}

func testNoLimits(t *testing.T, b Backend) {
	p := create(t, b, domain.CreateParams{Content: "x", Now: 1000})
	mustConsume(t, b, p.ID, 1000)
	for i := 0; i < 25; i++ {
		mustConsume(t, b, p.ID, 1000)
	}
	got := mustConsume(t, b, p.ID, 1_000_000_000_000_000)
	if got.ViewsUsed != 27 {
		t.Errorf("views = %d, want 27", got.ViewsUsed)
	}
	if got.HasExpiry() || got.HasViewLimit() {
		t.Errorf("unlimited paste grew limits: %+v", got)
	}
}

func testUnknownID(t *testing.T, b Backend) {
	err := expectNotFound(t, b, "0000000000000000", 1000)
	var exp *domain.ExpiredError
	if errors.As(err, &exp) {
		t.Errorf("never-created id reported as expired: %v", err)
	}
}

func testDeletedStaysDeleted(t *testing.T, b Backend) {
	p := create(t, b, domain.CreateParams{Content: "gone", TTLSeconds: 1, Now: 1000})
	expectNotFound(t, b, p.ID, 2001)
	// an earlier clock must not resurrect it
	expectNotFound(t, b, p.ID, 1000)
}

func testIDCollision(t *testing.T, b Backend) {
	p := create(t, b, domain.CreateParams{Content: "original", Now: 1000})
	dup := domain.NewPaste(p.ID, domain.CreateParams{Content: "impostor", Now: 2000})
	err := b.Create(context.Background(), dup)
	if !errors.Is(err, domain.ErrIDCollision) {
		t.Fatalf("duplicate Create error = %v, want ErrIDCollision", err)
	}
	got := mustConsume(t, b, p.ID, 2000)
	if got.Content != "original" || got.ViewsUsed != 1 {
		t.Errorf("duplicate create clobbered paste: %+v", got)
	}
}

func testContentVerbatim(t *testing.T, b Backend) {
	content := "  <script>alert('x')</script> & \"quotes\"\n\ttabs\r\nünïcødé 🚀 end  "
	p := create(t, b, domain.CreateParams{Content: content, Now: 1000})
	got := mustConsume(t, b, p.ID, 1000)
	if got.Content != content {
		t.Errorf("content = %q, want %q", got.Content, content)
	}
}

func consumeConcurrently(t *testing.T, b Backend, id string, readers int) (views []int64, notFound int) {
	t.Helper()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, err := b.Consume(context.Background(), id, 1000)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				views = append(views, p.ViewsUsed)
			case errors.Is(err, domain.ErrPasteNotFound):
				notFound++
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	sort.Slice(views, func(i, j int) bool { return views[i] < views[j] })
	return views, notFound
}

func testConcurrentMaxViews(t *testing.T, b Backend) {
	const maxViews, readers = 5, 40
	p := create(t, b, domain.CreateParams{Content: "race", MaxViews: maxViews, Now: 1000})

	views, notFound := consumeConcurrently(t, b, p.ID, readers)
	if len(views) != maxViews {
		t.Fatalf("successful reads = %d, want %d", len(views), maxViews)
	}
	if notFound != readers-maxViews {
		t.Errorf("not found = %d, want %d", notFound, readers-maxViews)
	}
	for i, v := range views {
		if v != int64(i+1) {
			t.Errorf("views granted = %v, want 1..%d each exactly once", views, maxViews)
			break
		}
	}
	expectNotFound(t, b, p.ID, 1000)
}

func testConcurrentMaxViewsOne(t *testing.T, b Backend) {
	for round := 0; round < 5; round++ {
		p := create(t, b, domain.CreateParams{Content: "burn", MaxViews: 1, Now: 1000})
		views, _ := consumeConcurrently(t, b, p.ID, 16)
		if len(views) != 1 {
			t.Fatalf("round %d: %d readers succeeded on a single-view paste", round, len(views))
		}
	}
}

func testConcurrentUnlimited(t *testing.T, b Backend) {
	const readers = 30
	p := create(t, b, domain.CreateParams{Content: "many", Now: 1000})
	views, notFound := consumeConcurrently(t, b, p.ID, readers)
	if notFound != 0 || len(views) != readers {
		t.Fatalf("got %d reads and %d not found, want %d reads", len(views), notFound, readers)
	}
	for i, v := range views {
		if v != int64(i+1) {
			t.Fatalf("views granted = %v, want 1..%d", views, readers)
		}
	}
}

func testPing(t *testing.T, b Backend) {
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
