package swap

import (
	"context"
	"fmt"
)

// SimulatedBuilder is a deterministic Builder test double: it returns a
// fixed dummy transaction (the teacher's "minimal dummy message that
// satisfies SignSerializedTransaction" shape from
// internal/jupiter/client.go's simulation interceptor) and a
// caller-configured Quote, without any network I/O. Used by the property
// tests in internal/brain that drive the full tick loop against canned
// swap outcomes.
type SimulatedBuilder struct {
	// OutPerIn is the output-amount multiplier applied to every build, a
	// stand-in for "the market moved by this factor since entry".
	OutPerIn float64

	// FailMints forces BuildSell/BuildBuyMore to error for these mints,
	// simulating a no-route or slippage failure.
	FailMints map[string]bool
}

// NewSimulatedBuilder constructs a builder with a 1:1 price.
func NewSimulatedBuilder() *SimulatedBuilder {
	return &SimulatedBuilder{OutPerIn: 1.0, FailMints: make(map[string]bool)}
}

const dummySignedTx = "AQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABAA=="

func (s *SimulatedBuilder) build(mint string, inAmount uint64) (string, Quote, error) {
	if s.FailMints[mint] {
		return "", Quote{}, fmt.Errorf("no route for mint %s", mint)
	}

	mult := s.OutPerIn
	if mult == 0 {
		mult = 1.0
	}

	return dummySignedTx, Quote{
		InputMint:  mint,
		OutputMint: SOLMint,
		InAmount:   inAmount,
		OutAmount:  uint64(float64(inAmount) * mult),
	}, nil
}

// BuildSell returns the canned transaction/quote for a sell of mint.
func (s *SimulatedBuilder) BuildSell(ctx context.Context, mint string, tokenAmount uint64, slippageBps int) (string, Quote, error) {
	return s.build(mint, tokenAmount)
}

// BuildBuyMore returns the canned transaction/quote for a buy-more of mint.
func (s *SimulatedBuilder) BuildBuyMore(ctx context.Context, mint string, solLamports uint64, slippageBps int) (string, Quote, error) {
	return s.build(mint, solLamports)
}
