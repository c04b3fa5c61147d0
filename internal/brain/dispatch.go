package brain

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/execution"
	"solana-pump-bot/internal/store"
)

// executeSell is the CAS-guarded exit dispatch shared by the decision
// loop and CommandListener's SELL/EMERGENCY_STOP actions. It implements
// property P1 (at-most-once exit): MarkPending's Open→Pending CAS admits
// exactly one caller per mint, across any number of concurrent ticks or a
// racing command, so only that caller ever reaches the swap builder.
func (b *Brain) executeSell(ctx context.Context, pos *store.PositionState, reason string) {
	res, err := b.store.MarkPending(ctx, pos.Mint, reason)
	if err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("mark-pending cas failed")
		return
	}
	if !res.WasOpen {
		return // lost the race or already out of Open; benign
	}
	pos = res.Final

	accounts, err := b.balances.GetTokenAccountsByOwner(ctx, b.walletAddress, pos.Mint)
	if err != nil || len(accounts) == 0 {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("no token balance found for exit, reopening")
		b.reopen(ctx, pos.Mint)
		return
	}
	var tokenAmount uint64
	for _, a := range accounts {
		tokenAmount += a.Amount
	}

	signedTx, _, err := b.builder.BuildSell(ctx, pos.Mint, tokenAmount, slippageBps(pos.SlippageTolerancePct))
	if err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("swap build failed, reopening position")
		b.reopen(ctx, pos.Mint)
		return
	}

	b.submitExit(ctx, pos, reason, signedTx)
}

func (b *Brain) submitExit(ctx context.Context, pos *store.PositionState, reason, signedSwapTx string) {
	tradeLamports := quoteToLamports(pos.PositionSize)

	result, err := b.executor.Submit(ctx, tradeLamports, signedSwapTx)
	if err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("bundle submission exhausted retries, reverting to open")
		if b.metrics != nil {
			b.metrics.RecordBundleFailure()
		}
		b.revert(ctx, pos.Mint)
		return
	}

	log.Info().
		Str("mint", pos.Mint).
		Str("bundle_id", result.BundleID).
		Str("reason", reason).
		Msg("exit bundle submitted")

	if b.audit != nil {
		b.audit.RecordBundleSubmission(ctx, pos.Mint, result.BundleID, result.TipLamports)
	}

	signature, err := blockchain.ExtractSignature(signedSwapTx)
	if err != nil {
		// Can't poll for confirmation without a signature; the bundle was
		// accepted by the relay, so treat it as the C4 acknowledgement
		// invariant 6 requires and finalize without waiting.
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("could not extract swap signature, finalizing without confirmation wait")
		b.finalize(ctx, pos, reason)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.awaitConfirmation(ctx, pos, reason, signature)
	}()
}

func (b *Brain) awaitConfirmation(ctx context.Context, pos *store.PositionState, reason, signature string) {
	switch b.executor.WaitForConfirmation(ctx, signature, b.confirmWindow) {
	case execution.StatusConfirmed:
		b.finalize(ctx, pos, reason)
	case execution.StatusFailed:
		log.Warn().Str("mint", pos.Mint).Msg("exit bundle failed on-chain, reverting to open")
		b.revert(ctx, pos.Mint)
	default: // StatusTimeout, StatusPendingConfirmation
		log.Warn().Str("mint", pos.Mint).Msg("exit confirmation timed out, reverting to open")
		b.revert(ctx, pos.Mint)
	}
}

func (b *Brain) finalize(ctx context.Context, pos *store.PositionState, reason string) {
	res, err := b.store.FinalizePending(ctx, pos.Mint, reason)
	if err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("failed to finalize closed position")
		return
	}
	if b.metrics != nil {
		b.metrics.RecordExit(reason)
	}
	if b.audit != nil && res.WasOpen {
		b.audit.RecordClosedPosition(ctx, res.Final)
	}
}

// revert reopens a Pending position whose exit bundle was submitted but
// did not confirm, bumping its failure count (may escalate it to Failed
// past store.MaxExitFailures).
func (b *Brain) revert(ctx context.Context, mint string) {
	res, err := b.store.RevertPending(ctx, mint)
	if err != nil {
		log.Error().Err(err).Str("mint", mint).Msg("failed to revert pending position")
		return
	}
	if res.Final.Status == store.StatusFailed {
		log.Error().Str("mint", mint).Int("failure_count", res.Final.FailureCount).Msg("position permanently failed after repeated exit failures")
	}
}

// reopen reopens a Pending position whose exit never reached submission
// (a swap build failure), with no failure-count consequence.
func (b *Brain) reopen(ctx context.Context, mint string) {
	if _, err := b.store.ReopenPending(ctx, mint); err != nil {
		log.Error().Err(err).Str("mint", mint).Msg("failed to reopen position after build failure")
	}
}

func (b *Brain) executeBuyMore(ctx context.Context, pos *store.PositionState, extraSize float64) {
	solLamports := quoteToLamports(extraSize)

	signedTx, _, err := b.builder.BuildBuyMore(ctx, pos.Mint, solLamports, slippageBps(pos.SlippageTolerancePct))
	if err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("buy-more swap build failed, leaving position unchanged")
		return
	}

	result, err := b.executor.Submit(ctx, solLamports, signedTx)
	if err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("buy-more bundle submission failed")
		if b.metrics != nil {
			b.metrics.RecordBundleFailure()
		}
		return
	}

	// position_size is only mutated by a successful BuyMore acknowledgement
	// from C4 (invariant 6) — Submit's acceptance is that acknowledgement,
	// not on-chain confirmation.
	pos.PositionSize += extraSize
	if err := b.store.Update(ctx, pos); err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("failed to persist scale-in size increase")
		return
	}

	if b.metrics != nil {
		b.metrics.RecordBuyMore()
	}
	if b.audit != nil {
		b.audit.RecordBundleSubmission(ctx, pos.Mint, result.BundleID, result.TipLamports)
	}
}

// ForceSell exits mint immediately, bypassing decision.Decide. Used by
// CommandListener's SELL action (EMERGENCY_STOP goes through
// EmergencyStopAll); reason should already carry the command's prefix
// (e.g. "CMD_SELL:").
func (b *Brain) ForceSell(ctx context.Context, mint, reason string) {
	pos, err := b.store.Get(ctx, mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", mint).Msg("force-sell: failed to load position")
		return
	}
	if pos == nil || pos.Status != store.StatusOpen {
		return
	}
	b.executeSell(ctx, pos, reason)
}

// ForceBuyMore applies a scale-in of extraSize to mint, bypassing
// decision.Decide. Used by CommandListener's BUY_MORE action.
func (b *Brain) ForceBuyMore(ctx context.Context, mint string, extraSize float64) {
	pos, err := b.store.Get(ctx, mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", mint).Msg("force-buy-more: failed to load position")
		return
	}
	if pos == nil || pos.Status != store.StatusOpen {
		return
	}
	b.executeBuyMore(ctx, pos, extraSize)
}

// EmergencyStopAll exits every currently Open position with reason,
// continuing past individual failures — best-effort, per spec.md §4.7's
// EMERGENCY_STOP semantics.
func (b *Brain) EmergencyStopAll(ctx context.Context, reason string) {
	positions, err := b.store.AllOpen(ctx)
	if err != nil {
		log.Error().Err(err).Msg("emergency stop: failed to list open positions")
		return
	}

	var wg sync.WaitGroup
	for _, pos := range positions {
		pos := pos
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.executeSell(ctx, pos, reason)
		}()
	}
	wg.Wait()
}
