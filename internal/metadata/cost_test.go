package metadata

import (
	"testing"

	"github.com/aduverger/zotfill/internal/config"
	"github.com/aduverger/zotfill/internal/llm"
)

func TestCalculateCostAnthropic(t *testing.T) {
	e := &Extractor{kind: config.ProviderAnthropic}
	e.usage.Add(llm.Usage{InputTokens: 2_000_000, OutputTokens: 1_000_000})

	r := e.CalculateCost()
	if got := r.InputCost.String(); got != "2" {
		t.Errorf("input cost = %s, want 2", got)
	}
	if got := r.OutputCost.String(); got != "5" {
		t.Errorf("output cost = %s, want 5", got)
	}
	if got := r.TotalCost.String(); got != "7" {
		t.Errorf("total cost = %s, want 7", got)
	}
}

// Token counts far below a million must not vanish into float rounding.
func TestCalculateCostSmallCountsAreExact(t *testing.T) {
	e := &Extractor{kind: config.ProviderOpenRouter}
	e.usage.Add(llm.Usage{InputTokens: 1, OutputTokens: 1})

	r := e.CalculateCost()
	if got := r.InputCost.String(); got != "0.00000014" {
		t.Errorf("input cost = %s, want 0.00000014", got)
	}
	if got := r.OutputCost.String(); got != "0.00000028" {
		t.Errorf("output cost = %s, want 0.00000028", got)
	}
}

func TestCalculateCostLlamaIsFree(t *testing.T) {
	e := &Extractor{kind: config.ProviderLlama}
	e.usage.Add(llm.Usage{InputTokens: 5_000_000, OutputTokens: 5_000_000})

	r := e.CalculateCost()
	if !r.TotalCost.IsZero() {
		t.Errorf("local inference must cost zero, got %s", r.TotalCost)
	}
	if r.InputTokens != 5_000_000 || r.OutputTokens != 5_000_000 {
		t.Errorf("token counts must still be reported: %d/%d", r.InputTokens, r.OutputTokens)
	}
}

func TestUsageAccumulatorIsOrderIndependent(t *testing.T) {
	var a, b UsageAccumulator
	calls := []llm.Usage{
		{InputTokens: 1200, OutputTokens: 340},
		{InputTokens: 980, OutputTokens: 120},
		{InputTokens: 4407, OutputTokens: 998},
	}
	for _, u := range calls {
		a.Add(u)
	}
	for i := len(calls) - 1; i >= 0; i-- {
		b.Add(calls[i])
	}

	ai, ao := a.Totals()
	bi, bo := b.Totals()
	if ai != bi || ao != bo {
		t.Errorf("totals differ: %d/%d vs %d/%d", ai, ao, bi, bo)
	}
	if ai != 6587 || ao != 1458 {
		t.Errorf("totals = %d/%d, want 6587/1458", ai, ao)
	}
}

func TestCalculateCostDoesNotMutate(t *testing.T) {
	e := &Extractor{kind: config.ProviderAnthropic}
	e.usage.Add(llm.Usage{InputTokens: 100, OutputTokens: 50})

	first := e.CalculateCost()
	second := e.CalculateCost()
	if !first.TotalCost.Equal(second.TotalCost) {
		t.Errorf("repeated reports differ: %s vs %s", first.TotalCost, second.TotalCost)
	}
	if in, out := e.usage.Totals(); in != 100 || out != 50 {
		t.Errorf("reporting must not change counters, got %d/%d", in, out)
	}
}
