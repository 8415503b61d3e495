package llm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aduverger/zotfill/internal/config"
)

// OpenRouterProvider implements the generate contract through an
// OpenAI-compatible gateway with a configurable model identifier.
type OpenRouterProvider struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewOpenRouter(cfg config.LLMConfig, logger *slog.Logger) *OpenRouterProvider {
	if cfg.OpenRouterBaseURL == "" {
		cfg.OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.OpenRouterModel == "" {
		cfg.OpenRouterModel = "deepseek/deepseek-chat"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenRouterProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

func (p *OpenRouterProvider) Name() string { return string(config.ProviderOpenRouter) }

func (p *OpenRouterProvider) Generate(ctx context.Context, prompt, systemPrompt string) (*GenerateResult, error) {
	start := time.Now()
	content, usage, err := chatCompletion(ctx, p.httpClient, p.cfg.OpenRouterBaseURL, p.cfg.OpenRouterAPIKey,
		p.cfg.OpenRouterModel, p.cfg.Temperature, p.cfg.MaxTokens, prompt, systemPrompt, p.log)
	if err != nil {
		// Log, then re-raise; transport failures are never swallowed here.
		p.log.Error("llm.generate.failed",
			"provider", p.Name(),
			"model", p.cfg.OpenRouterModel,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}
	p.log.Info("llm.generate.ok",
		"provider", p.Name(),
		"model", p.cfg.OpenRouterModel,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &GenerateResult{Content: content, Usage: usage}, nil
}
