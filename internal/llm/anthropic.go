package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aduverger/zotfill/internal/config"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the hosted Messages API. Token usage counters are
// surfaced verbatim from the vendor response.
type AnthropicProvider struct {
	cfg        config.LLMConfig
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewAnthropic(cfg config.LLMConfig, logger *slog.Logger) *AnthropicProvider {
	if cfg.AnthropicModel == "" {
		cfg.AnthropicModel = "claude-3-5-haiku-latest"
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
	return &AnthropicProvider{
		cfg:        cfg,
		baseURL:    "https://api.anthropic.com",
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

func (p *AnthropicProvider) Name() string { return string(config.ProviderAnthropic) }

func (p *AnthropicProvider) Generate(ctx context.Context, prompt, systemPrompt string) (*GenerateResult, error) {
	start := time.Now()
	body := map[string]any{
		"model":       p.cfg.AnthropicModel,
		"max_tokens":  p.cfg.MaxTokens,
		"temperature": p.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	if systemPrompt != "" {
		body["system"] = systemPrompt
	}

	headers := map[string]string{
		"x-api-key":         p.cfg.AnthropicAPIKey,
		"anthropic-version": anthropicVersion,
	}
	raw, _, err := sendJSON(ctx, p.httpClient, strings.TrimRight(p.baseURL, "/")+"/v1/messages", body, headers, p.log)
	if err != nil {
		return nil, err
	}

	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("no content blocks in anthropic response")
	}

	res := &GenerateResult{
		Content: msg.Content[0].Text,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	p.log.Info("llm.generate.ok",
		"provider", p.Name(),
		"model", p.cfg.AnthropicModel,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
