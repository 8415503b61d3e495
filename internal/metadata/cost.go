package metadata

import (
	"github.com/shopspring/decimal"

	"github.com/aduverger/zotfill/internal/config"
	"github.com/aduverger/zotfill/internal/llm"
)

// UsageAccumulator counts tokens across a whole process. Counters only grow,
// are reset at process start only, and are read at reporting time.
type UsageAccumulator struct {
	totalInputTokens  int64
	totalOutputTokens int64
}

func (a *UsageAccumulator) Add(u llm.Usage) {
	a.totalInputTokens += u.InputTokens
	a.totalOutputTokens += u.OutputTokens
}

func (a *UsageAccumulator) Totals() (input, output int64) {
	return a.totalInputTokens, a.totalOutputTokens
}

// CostReport is the detailed cost breakdown of a run. Monetary values are
// decimals, never floats, so many small accumulations cannot drift.
type CostReport struct {
	InputTokens  int64
	OutputTokens int64
	InputCost    decimal.Decimal
	OutputCost   decimal.Decimal
	TotalCost    decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// CalculateCost derives the monetary cost of the accumulated usage from the
// active provider's price table. Pure function of the accumulator: calling it
// never changes the counters.
func (e *Extractor) CalculateCost() CostReport {
	pricing := config.PricingFor(e.kind)
	in, out := e.usage.Totals()

	inputCost := decimal.NewFromInt(in).Mul(pricing.InputPerMTok).Div(million)
	outputCost := decimal.NewFromInt(out).Mul(pricing.OutputPerMTok).Div(million)

	return CostReport{
		InputTokens:  in,
		OutputTokens: out,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost.Add(outputCost),
	}
}
