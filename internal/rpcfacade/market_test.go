package rpcfacade

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-pump-bot/internal/decision"
)

func TestRPCPollMarketSource_TrackAndLatest(t *testing.T) {
	calls := make(chan struct{}, 8)
	poll := func(ctx context.Context, mint string) (decision.Market, error) {
		calls <- struct{}{}
		return decision.Market{Mint: mint, Price: 1.5, Timestamp: time.Now()}, nil
	}

	src := NewRPCPollMarketSource(poll, 10*time.Millisecond)
	if err := src.Track("MintA", ""); err != nil {
		t.Fatalf("Track: %v", err)
	}
	defer src.Untrack("MintA")

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("poll never fired")
	}

	time.Sleep(20 * time.Millisecond)
	m, ok := src.Latest("MintA")
	if !ok {
		t.Fatal("expected a snapshot after polling")
	}
	if m.Price != 1.5 {
		t.Errorf("Price = %v, want 1.5", m.Price)
	}
}

func TestRPCPollMarketSource_UntrackStopsPolling(t *testing.T) {
	count := 0
	poll := func(ctx context.Context, mint string) (decision.Market, error) {
		count++
		return decision.Market{Mint: mint, Timestamp: time.Now()}, nil
	}

	src := NewRPCPollMarketSource(poll, 5*time.Millisecond)
	src.Track("MintA", "")
	time.Sleep(15 * time.Millisecond)
	src.Untrack("MintA")
	after := count
	time.Sleep(30 * time.Millisecond)

	if count > after+1 {
		t.Errorf("polling continued after Untrack: count went from %d to %d", after, count)
	}
	if _, ok := src.Latest("MintA"); ok {
		t.Error("expected no snapshot after Untrack")
	}
}

type fakeSource struct {
	m  decision.Market
	ok bool
}

func (f *fakeSource) Track(mint, poolAddr string) error { return nil }
func (f *fakeSource) Untrack(mint string) error         { return nil }
func (f *fakeSource) Latest(mint string) (decision.Market, bool) {
	return f.m, f.ok
}

func TestFailoverMarketSource_PrefersFreshPrimary(t *testing.T) {
	primary := &fakeSource{m: decision.Market{Mint: "MintA", Price: 2.0, Timestamp: time.Now()}, ok: true}
	fallback := &fakeSource{m: decision.Market{Mint: "MintA", Price: 9.0, Timestamp: time.Now()}, ok: true}

	f := NewFailoverMarketSource(primary, fallback)
	m, ok := f.Latest("MintA")
	if !ok || m.Price != 2.0 {
		t.Errorf("got price %v, want primary's 2.0", m.Price)
	}
}

func TestFailoverMarketSource_FallsBackWhenPrimaryStale(t *testing.T) {
	primary := &fakeSource{m: decision.Market{Mint: "MintA", Price: 2.0, Timestamp: time.Now().Add(-time.Hour)}, ok: true}
	fallback := &fakeSource{m: decision.Market{Mint: "MintA", Price: 9.0, Timestamp: time.Now()}, ok: true}

	f := NewFailoverMarketSource(primary, fallback)
	m, ok := f.Latest("MintA")
	if !ok || m.Price != 9.0 {
		t.Errorf("got price %v, want fallback's 9.0", m.Price)
	}
}

func TestFailoverMarketSource_TrackPropagatesError(t *testing.T) {
	primary := &erroringSource{err: errors.New("boom")}
	fallback := &fakeSource{}

	f := NewFailoverMarketSource(primary, fallback)
	if err := f.Track("MintA", "pool"); err == nil {
		t.Fatal("expected error from primary.Track to propagate")
	}
}

type erroringSource struct{ err error }

func (e *erroringSource) Track(mint, poolAddr string) error          { return e.err }
func (e *erroringSource) Untrack(mint string) error                  { return nil }
func (e *erroringSource) Latest(mint string) (decision.Market, bool) { return decision.Market{}, false }
