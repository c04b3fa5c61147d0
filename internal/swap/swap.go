// Package swap implements SwapBuilder (C3): turning a sell or scale-in
// decision into a signed, submittable transaction. spec.md §4.3/§9 call
// for an interface rather than a single concrete type, so the brain loop
// can be driven against a deterministic double in tests without touching
// the network.
package swap

import "context"

// SOLMint is the wrapped-SOL mint address used as the quote side of every
// swap this package builds, grounded on internal/jupiter/client.go's
// SOLMint constant.
const SOLMint = "So11111111111111111111111111111111111111112"

// Quote describes a prospective swap's expected outcome, surfaced so the
// caller can log or reject it before paying for a bundle.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
}

// Builder produces signed, base64-encoded swap transactions for the two
// decisions the brain ever acts on: selling a full position and adding to
// one. It never submits anything itself — that is BundleExecutor's job.
type Builder interface {
	// BuildSell returns a signed transaction swapping the entire
	// tokenAmount of mint back to SOL.
	BuildSell(ctx context.Context, mint string, tokenAmount uint64, slippageBps int) (signedTxBase64 string, quote Quote, err error)

	// BuildBuyMore returns a signed transaction swapping solLamports of
	// SOL into mint.
	BuildBuyMore(ctx context.Context, mint string, solLamports uint64, slippageBps int) (signedTxBase64 string, quote Quote, err error)
}
