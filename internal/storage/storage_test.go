package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/thyrook/boardsight/internal/board"
)

// TestNewPatchCache tests cache creation
func TestNewPatchCache(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	cache, err := NewPatchCache(dbPath, 1000)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if cache.dbPath != dbPath {
		t.Errorf("Expected dbPath %s, got %s", dbPath, cache.dbPath)
	}

	count, err := cache.Count()
	if err != nil {
		t.Fatalf("Failed to count labels: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected initial count 0, got %d", count)
	}

	if _, err := NewPatchCache(filepath.Join(t.TempDir(), "bad.db"), 0); err == nil {
		t.Error("Expected error for zero size")
	}
}

func TestPatchCachePutGet(t *testing.T) {
	cache, err := NewPatchCache(filepath.Join(t.TempDir(), "test.db"), 1000)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if _, ok, err := cache.Get(42); err != nil || ok {
		t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
	}

	want := board.Label{Piece: board.BlackKnight, Confidence: 0.93}
	if err := cache.Put(42, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Overwriting the same key must not grow the count.
	if err := cache.Put(42, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := cache.Get(42)
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	count, _ := cache.Count()
	if count != 1 {
		t.Errorf("Expected count 1, got %d", count)
	}

	if err := cache.Put(7, board.Label{Piece: board.Piece(99)}); err == nil {
		t.Error("Expected error for invalid piece")
	}
}

func TestPatchCacheWrapsWhenFull(t *testing.T) {
	cache, err := NewPatchCache(filepath.Join(t.TempDir(), "test.db"), 3)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	for k := uint64(1); k <= 4; k++ {
		if err := cache.Put(k, board.Label{Piece: board.WhitePawn, Confidence: 1}); err != nil {
			t.Fatalf("Put %d failed: %v", k, err)
		}
	}

	count, _ := cache.Count()
	if count != 1 {
		t.Errorf("Expected count 1 after wrap, got %d", count)
	}
	if _, ok, _ := cache.Get(1); ok {
		t.Error("Expected old entries to be dropped")
	}
	if _, ok, _ := cache.Get(4); !ok {
		t.Error("Expected newest entry to survive")
	}
}

func TestPatchCachePersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	cache, err := NewPatchCache(dbPath, 10)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	cache.Put(9, board.Label{Piece: board.WhiteQueen, Confidence: 0.7})
	cache.Close()

	if _, _, err := cache.Get(9); err == nil {
		t.Error("Expected error on closed cache")
	}

	reopened, err := NewPatchCache(dbPath, 10)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(9)
	if err != nil || !ok || got.Piece != board.WhiteQueen {
		t.Errorf("Expected persisted wQ, got %+v ok=%v err=%v", got, ok, err)
	}
}

type cachedResult struct {
	FEN   string   `json:"fen"`
	Moves []string `json:"moves"`
}

func TestAnalysisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := NewAnalysisCache(rdb, time.Minute)
	ctx := context.Background()

	var out cachedResult
	ok, err := cache.Load(ctx, "k1", &out)
	if err != nil || ok {
		t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
	}

	in := cachedResult{FEN: "8/8/8/8/8/8/8/K6k w - - 0 1", Moves: []string{"a1a2"}}
	if err := cache.Store(ctx, "k1", in); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	ok, err = cache.Load(ctx, "k1", &out)
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if out.FEN != in.FEN || len(out.Moves) != 1 {
		t.Errorf("Expected %+v, got %+v", in, out)
	}

	mr.FastForward(2 * time.Minute)
	ok, _ = cache.Load(ctx, "k1", &out)
	if ok {
		t.Error("Expected entry to expire")
	}
}

func TestDial(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	rdb, err := Dial(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	rdb.Close()

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, mr.Addr()); err == nil {
		t.Error("Expected error for closed server")
	}
}
