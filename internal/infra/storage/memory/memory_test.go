package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/fetchkit/internal/infra/storage"
)

func TestMemoryStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	if e, err := s.Get(ctx, "missing"); e != nil || err != nil {
		t.Fatalf("expected miss, got %v, %v", e, err)
	}

	if err := s.Put(ctx, &storage.Entry{URI: "a", Data: []byte("hello")}); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	e, err := s.Get(ctx, "a")
	if err != nil || e == nil || string(e.Data) != "hello" {
		t.Fatalf("Get() = %v, %v", e, err)
	}
	if e.StoredAt.IsZero() {
		t.Error("expected StoredAt to be set")
	}

	// Mutating the returned copy must not affect the store.
	e.Data[0] = 'j'
	again, _ := s.Get(ctx, "a")
	if string(again.Data) != "hello" {
		t.Fatalf("store was mutated through returned entry: %q", again.Data)
	}

	removed, _ := s.Delete(ctx, "a")
	if !removed {
		t.Fatal("expected delete to report removal")
	}
	removed, _ = s.Delete(ctx, "a")
	if removed {
		t.Fatal("second delete must report false")
	}
}

func TestMemoryStorage_DeleteByParent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	for _, uri := range []string{"x", "y", "z"} {
		_ = s.Put(ctx, &storage.Entry{URI: uri, ParentID: "group-1", Data: []byte(uri)})
	}
	_ = s.Put(ctx, &storage.Entry{URI: "other", ParentID: "group-2", Data: []byte("o")})

	n, err := s.DeleteByParent(ctx, "group-1")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByParent() = %d, %v", n, err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", s.Len())
	}
	if n, _ := s.DeleteByParent(ctx, "group-1"); n != 0 {
		t.Fatalf("expected 0 on second call, got %d", n)
	}
}

func TestMemoryStorage_ReparentOnPut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	_ = s.Put(ctx, &storage.Entry{URI: "a", ParentID: "p1"})
	_ = s.Put(ctx, &storage.Entry{URI: "a", ParentID: "p2"})

	if n, _ := s.DeleteByParent(ctx, "p1"); n != 0 {
		t.Fatalf("stale parent index removed %d entries", n)
	}
	if n, _ := s.DeleteByParent(ctx, "p2"); n != 1 {
		t.Fatalf("expected 1 removal for new parent, got %d", n)
	}
}

func TestMemoryStorage_PruneKeepsPermanent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	old := time.Now().Add(-2 * time.Hour)

	_ = s.Put(ctx, &storage.Entry{URI: "old", StoredAt: old})
	_ = s.Put(ctx, &storage.Entry{URI: "pinned", Permanent: true, StoredAt: old})
	_ = s.Put(ctx, &storage.Entry{URI: "fresh"})

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune() = %d, %v", n, err)
	}
	if e, _ := s.Get(ctx, "pinned"); e == nil {
		t.Fatal("permanent entry was pruned")
	}
	if e, _ := s.Get(ctx, "old"); e != nil {
		t.Fatal("expired entry survived prune")
	}
}
