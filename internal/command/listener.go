// Package command implements CommandListener (C7): subscribes to the
// store's command pub/sub channel and drives Brain's exported commands
// from it. Grounded on the subscribe-then-dispatch loop in ares_api's
// RedisEventBus adapter (internal/eventbus/redis_adapter.go), retargeted
// from that event bus's topic-routed handler map onto the fixed six-action
// table spec.md §4.7 defines.
package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/store"
)

// Brain is the subset of *brain.Brain the listener drives.
type Brain interface {
	ForceSell(ctx context.Context, mint, reason string)
	ForceBuyMore(ctx context.Context, mint string, extraSize float64)
	EmergencyStopAll(ctx context.Context, reason string)
	Pause()
	Resume()
}

// Store is the subset of *store.Store the listener needs: the command
// subscription itself, plus direct read/update access for UPDATE_TARGETS,
// which mutates fields DecisionTree reads but that no CAS transition
// guards (it never changes Status).
type Store interface {
	SubscribeCommands(ctx context.Context) (<-chan store.Command, error)
	Get(ctx context.Context, mint string) (*store.PositionState, error)
	Update(ctx context.Context, p *store.PositionState) error
}

// Listener is CommandListener (C7).
type Listener struct {
	store                Store
	brain                Brain
	emergencyStopEnabled bool

	// mintQueues serializes actions per mint, per spec.md §5's "within one
	// mint, actions are serialized" ordering guarantee: a SELL immediately
	// followed by a BUY_MORE on the same mint must apply in that order. A
	// single worker goroutine per mint drains its queue FIFO; distinct
	// mints get distinct workers and run concurrently.
	mintQueues sync.Map // mint -> chan store.Command
}

// New constructs a Listener. emergencyStopEnabled gates EMERGENCY_STOP per
// spec.md §6's EMERGENCY_STOP_ENABLED toggle; when false the command is
// logged and discarded like any other disabled action.
func New(st Store, brain Brain, emergencyStopEnabled bool) *Listener {
	return &Listener{store: st, brain: brain, emergencyStopEnabled: emergencyStopEnabled}
}

// Run subscribes to the command channel and processes messages until ctx
// is canceled or the subscription closes. Each mint's commands are queued
// in receive order to that mint's own worker goroutine, which applies them
// one at a time; distinct mints have distinct workers so one slow dispatch
// cannot stall the rest of the queue.
func (l *Listener) Run(ctx context.Context) error {
	commands, err := l.store.SubscribeCommands(ctx)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			l.dispatch(ctx, cmd)
		}
	}
}

// dispatch routes cmd to its mint's queue, starting that mint's worker on
// first use. Process-wide commands (PAUSE/RESUME/EMERGENCY_STOP with no
// mint) run inline since there is no per-mint ordering to preserve.
func (l *Listener) dispatch(ctx context.Context, cmd store.Command) {
	if cmd.Mint == "" {
		l.apply(ctx, cmd)
		return
	}

	chAny, loaded := l.mintQueues.LoadOrStore(cmd.Mint, make(chan store.Command, 64))
	ch := chAny.(chan store.Command)
	if !loaded {
		go l.runMintWorker(ctx, ch)
	}

	select {
	case ch <- cmd:
	case <-ctx.Done():
	}
}

func (l *Listener) runMintWorker(ctx context.Context, ch chan store.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-ch:
			l.apply(ctx, cmd)
		}
	}
}

func (l *Listener) apply(ctx context.Context, cmd store.Command) {
	switch cmd.Action {
	case "SELL":
		l.brain.ForceSell(ctx, cmd.Mint, "CMD_SELL:"+cmd.Reason)

	case "BUY_MORE":
		if cmd.Amount == nil {
			log.Warn().Str("mint", cmd.Mint).Msg("BUY_MORE command missing amount, discarding")
			return
		}
		l.brain.ForceBuyMore(ctx, cmd.Mint, *cmd.Amount)

	case "UPDATE_TARGETS":
		l.updateTargets(ctx, cmd)

	case "PAUSE_TRADING":
		l.brain.Pause()
		log.Info().Msg("trading paused by command")

	case "RESUME_TRADING":
		l.brain.Resume()
		log.Info().Msg("trading resumed by command")

	case "EMERGENCY_STOP":
		if !l.emergencyStopEnabled {
			log.Warn().Msg("EMERGENCY_STOP received but disabled by configuration, discarding")
			return
		}
		l.brain.EmergencyStopAll(ctx, "EMERGENCY:"+cmd.Reason)

	default:
		log.Warn().Str("action", cmd.Action).Msg("unrecognized command action, discarding")
	}
}

func (l *Listener) updateTargets(ctx context.Context, cmd store.Command) {
	pos, err := l.store.Get(ctx, cmd.Mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", cmd.Mint).Msg("UPDATE_TARGETS: failed to load position")
		return
	}
	if pos == nil {
		log.Warn().Str("mint", cmd.Mint).Msg("UPDATE_TARGETS: unknown mint, discarding")
		return
	}

	if cmd.TakeProfit != nil {
		pos.TakeProfitPct = *cmd.TakeProfit
	}
	if cmd.StopLoss != nil {
		pos.StopLossPct = *cmd.StopLoss
	}
	if cmd.Timeout != nil {
		pos.TimeoutSeconds = *cmd.Timeout
	}

	if err := l.store.Update(ctx, pos); err != nil {
		log.Warn().Err(err).Str("mint", cmd.Mint).Msg("UPDATE_TARGETS: failed to persist updated targets")
	}
}
