package router

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStateStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore(20 * time.Millisecond)

	if err := s.Set(ctx, 1, UserState{Step: "awaiting_domain"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	st, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st == nil || st.Step != "awaiting_domain" {
		t.Fatalf("expected live state, got %v", st)
	}

	time.Sleep(40 * time.Millisecond)

	st, err = s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if st != nil {
		t.Fatalf("expected expired state treated as absent, got %v", st)
	}
}

func TestMemoryStateStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore(20 * time.Millisecond)

	for id := int64(1); id <= 3; id++ {
		if err := s.Set(ctx, id, UserState{Step: "awaiting_email"}); err != nil {
			t.Fatalf("set %d: %v", id, err)
		}
	}

	removed, err := s.Sweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing swept while fresh, got %d", removed)
	}

	removed, err = s.Sweep(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 swept, got %d", removed)
	}
}

func TestMemoryStateStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore(time.Minute)

	if err := s.Set(ctx, 9, UserState{Step: "awaiting_domain", OrderID: "ord-1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, 9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	st, err := s.Get(ctx, 9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st != nil {
		t.Fatalf("expected deleted state absent, got %v", st)
	}
}
