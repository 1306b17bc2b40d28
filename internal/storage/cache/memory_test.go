package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgerrors "civic-mesh/pkg/errors"
)

func TestMemoryStore_Set_Get_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	if err := s.Set(ctx, "k1", "v1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v string
	if err := s.Get(ctx, "k1", &v); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "v1" {
		t.Errorf("Get: got %q", v)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Get(ctx, "k1", &v); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("Get after Delete: want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Exists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	ok, err := s.Exists(ctx, "k")
	if err != nil || ok {
		t.Errorf("Exists missing: ok=%v err=%v", ok, err)
	}
	_ = s.Set(ctx, "k", "v", 0)
	ok, err = s.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists present: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	_ = s.Set(ctx, "a", 1, 0)
	_ = s.Set(ctx, "b", 2, 0)
	var n int
	// 访问 a，使 b 成为最久未用
	if err := s.Get(ctx, "a", &n); err != nil {
		t.Fatalf("Get a: %v", err)
	}
	_ = s.Set(ctx, "c", 3, 0)
	if s.Len() != 2 {
		t.Fatalf("Len: got %d", s.Len())
	}
	if ok, _ := s.Exists(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	if ok, _ := s.Exists(ctx, "a"); !ok {
		t.Error("a should survive")
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_ = s.Set(ctx, "short", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	var v string
	if err := s.Get(ctx, "short", &v); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("expired key: want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_ = s.Set(ctx, "k1", map[string]any{"x": 1}, 0)
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	var v map[string]any
	if err := s.Get(ctx, "k1", &v); err == nil {
		t.Error("Get after Clear should error")
	}
}
