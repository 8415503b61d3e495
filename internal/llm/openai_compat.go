package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// chatCompletion performs one call against an OpenAI-compatible
// /chat/completions endpoint. Both the gateway and the local llama-server
// speak this dialect, so they share the wire code and differ only in
// construction.
func chatCompletion(ctx context.Context, client *http.Client, baseURL, apiKey, model string, temperature float32, maxTokens int, prompt, systemPrompt string, logger *slog.Logger) (string, Usage, error) {
	messages := []map[string]any{}
	if systemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": prompt})

	body := map[string]any{
		"model":       model,
		"temperature": temperature,
		"max_tokens":  maxTokens,
		"messages":    messages,
	}

	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	raw, _, err := sendJSON(ctx, client, endpoint, body, headers, logger)
	if err != nil {
		return "", Usage{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", Usage{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in chat completion response")
	}

	usage := Usage{
		InputTokens:  cc.Usage.PromptTokens,
		OutputTokens: cc.Usage.CompletionTokens,
	}
	return cc.Choices[0].Message.Content, usage, nil
}
