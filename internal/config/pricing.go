package config

import "github.com/shopspring/decimal"

// Pricing is a provider price table in USD per million tokens. Monetary
// amounts stay in decimal form end to end so accumulated costs never drift.
type Pricing struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

var pricingTable = map[ProviderKind]Pricing{
	ProviderAnthropic: {
		InputPerMTok:  decimal.RequireFromString("1.00"),
		OutputPerMTok: decimal.RequireFromString("5.00"),
	},
	ProviderOpenRouter: {
		InputPerMTok:  decimal.RequireFromString("0.14"),
		OutputPerMTok: decimal.RequireFromString("0.28"),
	},
	// Self-hosted models are free.
	ProviderLlama: {
		InputPerMTok:  decimal.Zero,
		OutputPerMTok: decimal.Zero,
	},
}

// PricingFor returns the price table for a provider. Unknown providers price
// at zero rather than failing; cost reporting must never block a run.
func PricingFor(p ProviderKind) Pricing {
	if pr, ok := pricingTable[p]; ok {
		return pr
	}
	return Pricing{InputPerMTok: decimal.Zero, OutputPerMTok: decimal.Zero}
}
