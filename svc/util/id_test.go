package util

import (
	"sync"
	"testing"
)

func TestGenIDFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := GenID()
		if err != nil {
			t.Fatalf("GenID failed: %v", err)
		}
		if !ValidID(id) {
			t.Fatalf("GenID produced invalid id %q", id)
		}
	}
}

func TestGenIDUnique(t *testing.T) {
	const n = 5000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := GenID()
			if err != nil {
				t.Errorf("GenID failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[id]; dup {
				t.Errorf("duplicate id %s", id)
			}
			seen[id] = struct{}{}
		}()
	}
	wg.Wait()
}

func TestValidID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0123456789abcdef", true},
		{"0123456789ABCDEF", false},
		{"0123456789abcde", false},
		{"0123456789abcdefa", false},
		{"0123456789abcdeg", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.in); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
