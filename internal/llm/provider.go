// Package llm abstracts interchangeable text-generation backends behind one
// generate capability. Callers select a backend at construction and never
// branch on its identity afterwards.
package llm

import (
	"context"
	"log/slog"

	"github.com/aduverger/zotfill/internal/common"
	"github.com/aduverger/zotfill/internal/config"
)

// Usage reports the token counters of one generation call, surfaced verbatim
// from the backend. Backends that do not report usage leave both at zero.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// GenerateResult is the uniform response shape every backend produces.
type GenerateResult struct {
	Content string
	Usage   Usage
}

// Provider is the single capability the extractor depends on. Errors
// propagate unmodified; retry, if any, belongs to the catalog layer, not
// here.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt, systemPrompt string) (*GenerateResult, error)
}

// New builds the configured provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropic(cfg, logger), nil
	case config.ProviderOpenRouter:
		return NewOpenRouter(cfg, logger), nil
	case config.ProviderLlama:
		return NewLlama(cfg, logger), nil
	default:
		return nil, common.ConfigurationErrorf("unsupported provider %q", cfg.Provider)
	}
}
