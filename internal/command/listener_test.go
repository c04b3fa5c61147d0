package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"solana-pump-bot/internal/store"
)

type fakeStore struct {
	mu  sync.Mutex
	pos map[string]*store.PositionState
	ch  chan store.Command
}

func newFakeStore(positions ...*store.PositionState) *fakeStore {
	m := make(map[string]*store.PositionState)
	for _, p := range positions {
		cp := *p
		m[p.Mint] = &cp
	}
	return &fakeStore{pos: m, ch: make(chan store.Command, 16)}
}

func (f *fakeStore) SubscribeCommands(ctx context.Context) (<-chan store.Command, error) {
	return f.ch, nil
}

func (f *fakeStore) Get(ctx context.Context, mint string) (*store.PositionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pos[mint]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) Update(ctx context.Context, p *store.PositionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.pos[p.Mint] = &cp
	return nil
}

func (f *fakeStore) get(mint string) *store.PositionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos[mint]
}

// fakeBrain records every call the listener makes against it, optionally
// recording call order per-mint to verify §5's same-mint serialization.
type fakeBrain struct {
	mu          sync.Mutex
	forcedSells []string
	buyMores    []string
	paused      bool
	resumed     bool
	emergencies []string
	order       []string
}

func (f *fakeBrain) ForceSell(ctx context.Context, mint, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forcedSells = append(f.forcedSells, mint+":"+reason)
	f.order = append(f.order, "SELL:"+mint)
}

func (f *fakeBrain) ForceBuyMore(ctx context.Context, mint string, extraSize float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyMores = append(f.buyMores, mint)
	f.order = append(f.order, "BUY_MORE:"+mint)
}

func (f *fakeBrain) EmergencyStopAll(ctx context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emergencies = append(f.emergencies, reason)
}

func (f *fakeBrain) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeBrain) Resume() { f.mu.Lock(); f.resumed = true; f.mu.Unlock() }

func amountPtr(v float64) *float64 { return &v }

func TestListener_SellCommandPrefixesReason(t *testing.T) {
	st := newFakeStore()
	br := &fakeBrain{}
	l := New(st, br, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	st.ch <- store.Command{Action: "SELL", Mint: "MintA", Reason: "operator request"}
	waitFor(t, func() bool {
		br.mu.Lock()
		defer br.mu.Unlock()
		return len(br.forcedSells) == 1
	})

	br.mu.Lock()
	got := br.forcedSells[0]
	br.mu.Unlock()
	if got != "MintA:CMD_SELL:operator request" {
		t.Fatalf("expected prefixed reason, got %q", got)
	}

	cancel()
	<-done
}

func TestListener_EmergencyStopDisabledIsDiscarded(t *testing.T) {
	st := newFakeStore()
	br := &fakeBrain{}
	l := New(st, br, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	st.ch <- store.Command{Action: "EMERGENCY_STOP", Reason: "GLOBAL_MARKET_CRASH"}
	st.ch <- store.Command{Action: "PAUSE_TRADING"}
	waitFor(t, func() bool {
		br.mu.Lock()
		defer br.mu.Unlock()
		return br.paused
	})

	br.mu.Lock()
	n := len(br.emergencies)
	br.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected EMERGENCY_STOP to be discarded when disabled, got %d calls", n)
	}

	cancel()
	<-done
}

func TestListener_UpdateTargetsMutatesPosition(t *testing.T) {
	pos := &store.PositionState{Mint: "MintB", TakeProfitPct: 100, StopLossPct: -25, TimeoutSeconds: 600}
	st := newFakeStore(pos)
	br := &fakeBrain{}
	l := New(st, br, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	st.ch <- store.Command{Action: "UPDATE_TARGETS", Mint: "MintB", TakeProfit: amountPtr(150)}
	waitFor(t, func() bool {
		p := st.get("MintB")
		return p != nil && p.TakeProfitPct == 150
	})

	got := st.get("MintB")
	if got.StopLossPct != -25 {
		t.Fatalf("expected untouched fields preserved, stop loss changed to %v", got.StopLossPct)
	}

	cancel()
	<-done
}

func TestListener_SameMintActionsSerializeInOrder(t *testing.T) {
	st := newFakeStore()
	br := &fakeBrain{}
	l := New(st, br, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()

	st.ch <- store.Command{Action: "SELL", Mint: "MintC", Reason: "r"}
	st.ch <- store.Command{Action: "BUY_MORE", Mint: "MintC", Amount: amountPtr(5)}
	waitFor(t, func() bool {
		br.mu.Lock()
		defer br.mu.Unlock()
		return len(br.order) == 2
	})

	br.mu.Lock()
	order := append([]string(nil), br.order...)
	br.mu.Unlock()
	if order[0] != "SELL:MintC" || order[1] != "BUY_MORE:MintC" {
		t.Fatalf("expected SELL before BUY_MORE for the same mint, got %v", order)
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
