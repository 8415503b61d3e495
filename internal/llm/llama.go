package llm

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aduverger/zotfill/internal/config"
)

// LlamaProvider talks to a locally hosted llama-server over its
// OpenAI-compatible endpoint. The model identifier comes from a local GGUF
// path or from a repository file name; the server resolves it. Self-hosted
// backends often omit usage counters, in which case they stay at zero.
type LlamaProvider struct {
	cfg        config.LLMConfig
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewLlama(cfg config.LLMConfig, logger *slog.Logger) *LlamaProvider {
	if cfg.LlamaBaseURL == "" {
		cfg.LlamaBaseURL = "http://127.0.0.1:8080"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		// Local inference on CPU can be slow; be generous.
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LlamaProvider{
		cfg:        cfg,
		model:      llamaModelID(cfg),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// llamaModelID picks the model identifier forwarded to the server: the base
// name of a local file path when set, otherwise the repository file name.
func llamaModelID(cfg config.LLMConfig) string {
	if cfg.LlamaModelPath != "" {
		return filepath.Base(cfg.LlamaModelPath)
	}
	return cfg.LlamaFilename
}

func (p *LlamaProvider) Name() string { return string(config.ProviderLlama) }

func (p *LlamaProvider) Generate(ctx context.Context, prompt, systemPrompt string) (*GenerateResult, error) {
	start := time.Now()
	base := p.cfg.LlamaBaseURL
	content, usage, err := chatCompletion(ctx, p.httpClient, base+"/v1", "",
		p.model, p.cfg.Temperature, p.cfg.MaxTokens, prompt, systemPrompt, p.log)
	if err != nil {
		return nil, err
	}
	p.log.Info("llm.generate.ok",
		"provider", p.Name(),
		"model", p.model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &GenerateResult{Content: content, Usage: usage}, nil
}
