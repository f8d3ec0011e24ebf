package cache

import (
	"context"
	"errors"
	"testing"

	"vanishbin/pkg/domain"
	"vanishbin/svc/store/storetest"
)

func newTestMemory(t *testing.T, size int) *Memory {
	m, err := NewMemory(size)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return newTestMemory(t, 1000)
	})
}

func TestNewMemoryBounds(t *testing.T) {
	if _, err := NewMemory(0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewMemory(maxMemoryPastes + 1); err == nil {
		t.Error("expected error for oversized cache")
	}
}

func TestMemoryFullRejectsCreate(t *testing.T) {
	m := newTestMemory(t, 2)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := m.Create(ctx, domain.NewPaste(id, domain.CreateParams{Content: id, Now: 1})); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Create(ctx, domain.NewPaste("c", domain.CreateParams{Content: "c", Now: 1})); !errors.Is(err, ErrFull) {
		t.Fatalf("Create on full store = %v, want ErrFull", err)
	}
	if errors.Is(ErrFull, domain.ErrPasteNotFound) || errors.Is(ErrFull, domain.ErrIDCollision) {
		t.Fatal("ErrFull must not look like a lookup or collision result")
	}
	if err := m.Create(ctx, domain.NewPaste("a", domain.CreateParams{Content: "dup", Now: 1})); err != domain.ErrIDCollision {
		t.Errorf("duplicate on full store = %v, want ErrIDCollision", err)
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	// unlimited pastes stay readable however often they are read
	for i := 0; i < 3; i++ {
		for _, id := range []string{"a", "b"} {
			got, err := m.Consume(ctx, id, 1)
			if err != nil {
				t.Fatalf("Consume(%s) after rejected create: %v", id, err)
			}
			if got.Content != id {
				t.Errorf("Consume(%s) content = %q", id, got.Content)
			}
		}
	}
}

func TestMemoryFreesSlotOnExpiry(t *testing.T) {
	m := newTestMemory(t, 1)
	ctx := context.Background()
	if err := m.Create(ctx, domain.NewPaste("a", domain.CreateParams{Content: "a", MaxViews: 1, Now: 1})); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Consume(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Consume(ctx, "a", 1); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("exhausted paste = %v, want not found", err)
	}
	if err := m.Create(ctx, domain.NewPaste("b", domain.CreateParams{Content: "b", Now: 1})); err != nil {
		t.Errorf("Create after expiry freed the slot: %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := newTestMemory(t, 10)
	ctx := context.Background()
	p := domain.NewPaste("x", domain.CreateParams{Content: "orig", MaxViews: 3, Now: 1})
	if err := m.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Content = "mutated"
	got, err := m.Consume(ctx, "x", 1)
	if err != nil {
		t.Fatal(err)
	}
	got.ViewsUsed = 0
	again, err := m.Consume(ctx, "x", 1)
	if err != nil {
		t.Fatal(err)
	}
	if again.Content != "orig" || again.ViewsUsed != 2 {
		t.Errorf("stored paste leaked through a returned pointer: %+v", again)
	}
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	m := newTestMemory(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Consume(ctx, "x", 1); err != context.Canceled {
		t.Errorf("Consume on cancelled ctx = %v, want context.Canceled", err)
	}
}
