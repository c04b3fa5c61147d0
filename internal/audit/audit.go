// Package audit implements a write-only ledger of closed positions and
// submitted bundles, kept off the CAS hot path so a slow disk write can
// never delay a decision. Grounded on
// internal/storage/db.go's DB (WAL pragmas, database/sql usage,
// INSERT-only table helpers), with the teacher's positions/trades/signals
// schema replaced by the two tables this system actually needs:
// closed_positions and bundles.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"solana-pump-bot/internal/store"
)

// Ledger is the write-only SQLite audit trail (C8, a supplement beyond
// spec.md's distilled component list — see SPEC_FULL.md's DOMAIN STACK
// section).
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if absent) a WAL-mode SQLite database at path,
// mirroring NewDB's dsn-pragma construction.
func Open(path string) (*Ledger, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit tables: %w", err)
	}

	log.Info().Str("path", path).Msg("audit ledger initialized")
	return &Ledger{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS closed_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mint TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		position_size REAL NOT NULL,
		pnl_pct REAL NOT NULL,
		close_reason TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bundles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mint TEXT NOT NULL,
		bundle_id TEXT NOT NULL,
		tip_lamports INTEGER NOT NULL,
		submitted_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_closed_positions_mint ON closed_positions(mint);
	CREATE INDEX IF NOT EXISTS idx_bundles_mint ON bundles(mint);
	`
	_, err := db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordClosedPosition appends a terminal record for pos, which must
// already be Closed. Failures are logged, not returned — a ledger write
// failure must never unwind or retry the exit it's recording, since the
// position is already closed in the store regardless.
func (l *Ledger) RecordClosedPosition(ctx context.Context, pos *store.PositionState) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO closed_positions
		(mint, entry_price, exit_price, position_size, pnl_pct, close_reason, strategy_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.Mint, pos.EntryPrice, pos.CurrentPrice, pos.PositionSize, pos.PnLUnrealizedPct,
		pos.CloseReason, pos.StrategyID, pos.EntryTimestamp.Unix(), time.Now().Unix())
	if err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("failed to record closed position in audit ledger")
	}
}

// RecordBundleSubmission appends a record of a submitted bundle.
func (l *Ledger) RecordBundleSubmission(ctx context.Context, mint, bundleID string, tipLamports uint64) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO bundles (mint, bundle_id, tip_lamports, submitted_at)
		VALUES (?, ?, ?, ?)`,
		mint, bundleID, tipLamports, time.Now().Unix())
	if err != nil {
		log.Error().Err(err).Str("mint", mint).Str("bundle_id", bundleID).Msg("failed to record bundle submission in audit ledger")
	}
}
