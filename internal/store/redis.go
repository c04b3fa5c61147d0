package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CommandChannel is the pub/sub channel carrying external command
// messages, per spec.md §6.
const CommandChannel = "cerberus:commands"

// Store is the Redis-backed PositionStore (C2).
type Store struct {
	rdb *redis.Client
}

// NewStore connects to storeURL (a redis:// connection string, per
// spec.md §6's STORE_URL) and verifies reachability with a PING.
func NewStore(ctx context.Context, storeURL string) (*Store, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// StorePosition is an idempotent insert-or-replace.
func (s *Store) StorePosition(ctx context.Context, p *PositionState) error {
	raw, err := p.ToJSON()
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, p.RedisKey(), raw, 0).Err()
}

// Update replaces an existing position; fails if the mint is absent.
func (s *Store) Update(ctx context.Context, p *PositionState) error {
	exists, err := s.rdb.Exists(ctx, p.RedisKey()).Result()
	if err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("update: mint %s not found", p.Mint)
	}
	raw, err := p.ToJSON()
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, p.RedisKey(), raw, 0).Err()
}

// Get fetches a single position; returns (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, mint string) (*PositionState, error) {
	raw, err := s.rdb.Get(ctx, PositionKey(mint)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return PositionFromJSON(raw)
}

// AllOpen returns a snapshot of every Open position. Order is unspecified.
func (s *Store) AllOpen(ctx context.Context) ([]*PositionState, error) {
	var open []*PositionState
	iter := s.rdb.Scan(ctx, 0, "position:*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // raced with a deletion between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("scan get: %w", err)
		}
		pos, err := PositionFromJSON(raw)
		if err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("skipping unparsable position record")
			continue
		}
		if pos.Status == StatusOpen {
			open = append(open, pos)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan iterate: %w", err)
	}
	return open, nil
}

// CASResult reports the outcome of a CAS transition.
type CASResult struct {
	WasOpen bool
	Final   *PositionState
}

// CloseDirect atomically transitions mint from Open to Closed with
// reason, per spec.md §4.2's literal "atomic compare-and-swap from Open
// to Closed" contract. Closing an already-Closed (or Failed/Pending)
// position is a no-op, not an error — WasOpen reports whether this call
// performed the transition. Every exit Cerberus actually issues
// (decision-loop, ForceSell, EmergencyStopAll) goes through the
// Pending-mediated path instead (MarkPending, then FinalizePending once
// the exit bundle confirms), so CloseDirect currently has no caller in
// this package's consumers; it's kept as the literal spec.md primitive
// and exercised directly by this package's own tests.
func (s *Store) CloseDirect(ctx context.Context, mint, reason string) (CASResult, error) {
	return s.cas(ctx, mint, string(StatusOpen), string(StatusClosed), reason)
}

// genericCASScript moves a position from ARGV[1] to ARGV[2], stamping
// close_reason when ARGV[3] is non-empty. A single GET+SET from Go cannot
// be atomic across two round trips, so this is a Lua script evaluated
// server-side — the standard go-redis idiom for CAS — shared by every
// status transition this package performs.
const genericCASScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {0, "null"}
end
local pos = cjson.decode(raw)
if pos["status"] ~= ARGV[1] then
  return {0, raw}
end
pos["status"] = ARGV[2]
if ARGV[3] ~= "" then
  pos["close_reason"] = ARGV[3]
end
local encoded = cjson.encode(pos)
redis.call("SET", KEYS[1], encoded)
return {1, encoded}
`

func (s *Store) cas(ctx context.Context, mint, from, to, reason string) (CASResult, error) {
	res, err := s.rdb.Eval(ctx, genericCASScript, []string{PositionKey(mint)}, from, to, reason).Result()
	if err != nil {
		return CASResult{}, fmt.Errorf("%s->%s cas: %w", from, to, err)
	}
	return decodeCASResult(res)
}

func decodeCASResult(res interface{}) (CASResult, error) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return CASResult{}, fmt.Errorf("cas: unexpected script result %#v", res)
	}

	wasMatch, _ := parts[0].(int64)
	encoded, _ := parts[1].(string)
	if encoded == "null" {
		return CASResult{}, fmt.Errorf("cas: position not found")
	}

	pos, err := PositionFromJSON([]byte(encoded))
	if err != nil {
		return CASResult{}, fmt.Errorf("cas: decode result: %w", err)
	}

	return CASResult{WasOpen: wasMatch == 1, Final: pos}, nil
}

// MaxExitFailures bounds how many unconfirmed-exit reversions a position
// tolerates before it is given up on entirely, per the confirmation-
// semantics resolution in SPEC_FULL.md §9.
const MaxExitFailures = 3

// MarkPending is the at-most-once exit guard used by the normal decision-
// loop exit path: an Open→Pending CAS. Only one caller, across any number
// of concurrent ticks or a racing command, ever observes WasOpen=true for
// a given mint — that caller alone proceeds to build and submit the exit
// bundle. The position remains Pending (not yet Closed) until the
// submitted bundle's confirmation is observed, preserving the "Open→Closed
// is one-way" invariant for the interval where the exit might still need
// to be reverted.
func (s *Store) MarkPending(ctx context.Context, mint, reason string) (CASResult, error) {
	return s.cas(ctx, mint, string(StatusOpen), string(StatusPending), reason)
}

// FinalizePending transitions a Pending position to Closed once its exit
// bundle is observed confirmed.
func (s *Store) FinalizePending(ctx context.Context, mint, reason string) (CASResult, error) {
	return s.cas(ctx, mint, string(StatusPending), string(StatusClosed), reason)
}

// ReopenPending moves a Pending position straight back to Open with no
// failure_count bump. Used when the exit never reached submission (a swap
// build failure) — spec.md §7's SwapBuildFailed policy is "log, leave
// position Open, next tick retries," with no failure-count consequence;
// only a submitted-but-unconfirmed-or-failed bundle counts against
// MaxExitFailures via RevertPending.
func (s *Store) ReopenPending(ctx context.Context, mint string) (CASResult, error) {
	return s.cas(ctx, mint, string(StatusPending), string(StatusOpen), "")
}

// revertPendingScript moves Pending back to Open on an unconfirmed or
// failed exit, bumping failure_count; once failure_count exceeds
// MaxExitFailures the position is given up on as Failed instead, per the
// BundleSubmitFailed policy in spec.md §7.
const revertPendingScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {0, "null"}
end
local pos = cjson.decode(raw)
if pos["status"] ~= "Pending" then
  return {0, raw}
end
local fc = (pos["failure_count"] or 0) + 1
pos["failure_count"] = fc
if fc > tonumber(ARGV[1]) then
  pos["status"] = "Failed"
else
  pos["status"] = "Open"
end
local encoded = cjson.encode(pos)
redis.call("SET", KEYS[1], encoded)
return {1, encoded}
`

// RevertPending reopens (or, past MaxExitFailures, permanently fails) a
// Pending position whose exit bundle did not confirm.
func (s *Store) RevertPending(ctx context.Context, mint string) (CASResult, error) {
	res, err := s.rdb.Eval(ctx, revertPendingScript, []string{PositionKey(mint)}, MaxExitFailures).Result()
	if err != nil {
		return CASResult{}, fmt.Errorf("revert pending cas: %w", err)
	}
	return decodeCASResult(res)
}

// Command is a structured command channel message, per spec.md §4.7.
type Command struct {
	Action     string   `json:"action"`
	Mint       string   `json:"mint,omitempty"`
	Amount     *float64 `json:"amount,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	Timeout    *int     `json:"timeout,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// PublishCommand publishes a command to the shared channel. Producers
// (Cerebro, operator tooling) use this; it is not on the brain's hot path.
func (s *Store) PublishCommand(ctx context.Context, cmd Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.rdb.Publish(ctx, CommandChannel, raw).Err()
}

// SubscribeCommands returns a channel of decoded commands. Delivery order
// within the channel matches publish order (Redis pub/sub preserves
// per-subscriber ordering), matching spec.md §5's sequencing requirement.
// The channel is closed when ctx is canceled.
func (s *Store) SubscribeCommands(ctx context.Context) (<-chan Command, error) {
	pubsub := s.rdb.Subscribe(ctx, CommandChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe commands: %w", err)
	}

	out := make(chan Command, 64)
	msgs := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var cmd Command
				if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
					log.Warn().Err(err).Str("payload", msg.Payload).Msg("discarding unparsable command")
					continue
				}
				select {
				case out <- cmd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
