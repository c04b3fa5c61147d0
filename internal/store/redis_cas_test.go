package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestStore points a Store at an in-memory miniredis instance, which
// runs genericCASScript and revertPendingScript through a real Lua
// interpreter (including cjson), rather than faking EVAL's result.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Store{rdb: rdb}, mr
}

// TestCAS_PreservesFloatPrecisionAcrossCJSONRoundTrip guards spec.md §8's
// round-trip law: genericCASScript's cjson.decode->cjson.encode must not
// perturb a position's float fields. entry_price=0.001 is the case called
// out during review, since it's a price magnitude typical of the newly
// launched tokens this system tracks.
func TestCAS_PreservesFloatPrecisionAcrossCJSONRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := NewPositionState("MintA", 0.001, 12.5, "strategy-1", "wallet-1")
	p.CurrentPrice = 0.0012345
	p.PnLUnrealizedPct = 23.45
	if err := s.StorePosition(ctx, p); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}

	if _, err := s.CloseDirect(ctx, "MintA", "manual"); err != nil {
		t.Fatalf("CloseDirect: %v", err)
	}

	got, err := s.Get(ctx, "MintA")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after Close")
	}

	if got.EntryPrice != 0.001 {
		t.Errorf("EntryPrice = %v, want 0.001 (cjson round-trip must preserve decimal fractions)", got.EntryPrice)
	}
	if got.PositionSize != 12.5 {
		t.Errorf("PositionSize = %v, want 12.5", got.PositionSize)
	}
	if got.CurrentPrice != 0.0012345 {
		t.Errorf("CurrentPrice = %v, want 0.0012345", got.CurrentPrice)
	}
	if got.PnLUnrealizedPct != 23.45 {
		t.Errorf("PnLUnrealizedPct = %v, want 23.45", got.PnLUnrealizedPct)
	}
	if got.Status != StatusClosed {
		t.Errorf("Status = %v, want Closed", got.Status)
	}
}

// TestRevertPending_PreservesFloatPrecision exercises revertPendingScript
// the same way, since it runs its own independent cjson round trip.
func TestRevertPending_PreservesFloatPrecision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := NewPositionState("MintB", 0.00042, 3.0, "strategy-1", "wallet-1")
	if err := s.StorePosition(ctx, p); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}
	if _, err := s.MarkPending(ctx, "MintB", "stop_loss"); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	if _, err := s.RevertPending(ctx, "MintB"); err != nil {
		t.Fatalf("RevertPending: %v", err)
	}

	got, err := s.Get(ctx, "MintB")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EntryPrice != 0.00042 {
		t.Errorf("EntryPrice = %v, want 0.00042", got.EntryPrice)
	}
	if got.Status != StatusOpen {
		t.Errorf("Status = %v, want Open", got.Status)
	}
	if got.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", got.FailureCount)
	}
}
