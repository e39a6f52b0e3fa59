package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/logger"
)

const maxRetries = 3

// HTTPProvider speaks the OpenAI-compatible chat completions protocol, which
// covers OpenRouter, OpenAI, Zhipu and vLLM endpoints.
type HTTPProvider struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

func NewHTTPProvider(apiKey, apiBase string) *HTTPProvider {
	return &HTTPProvider{
		apiKey:  apiKey,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// CreateProvider builds the provider from whichever API key the config
// resolves first.
func CreateProvider(cfg *config.Config) (*HTTPProvider, error) {
	apiKey := cfg.GetAPIKey()
	apiBase := cfg.GetAPIBase()
	if apiKey == "" || apiBase == "" {
		return nil, fmt.Errorf("providers: no API key configured")
	}
	return NewHTTPProvider(apiKey, apiBase), nil
}

func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts ChatOptions) (*LLMResponse, error) {
	if p.apiBase == "" {
		return nil, fmt.Errorf("providers: API base not configured")
	}

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if len(tools) > 0 {
		requestBody["tools"] = tools
		requestBody["tool_choice"] = "auto"
	}
	if opts.MaxTokens > 0 {
		requestBody["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		requestBody["temperature"] = opts.Temperature
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal request: %w", err)
	}

	var body []byte
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("providers: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("providers: send request: %w", err)
		}

		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("providers: read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return parseResponse(body)
		}

		if !retryable(resp.StatusCode) || attempt == maxRetries {
			return nil, fmt.Errorf("providers: API error %d: %s", resp.StatusCode, truncate(string(body), 300))
		}

		delay := time.Duration(1<<attempt) * time.Second
		logger.WarnCF("providers", "Retrying LLM call",
			map[string]interface{}{"status": resp.StatusCode, "attempt": attempt + 1, "delay": delay.String()})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("providers: retries exhausted")
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseResponse(body []byte) (*LLMResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("providers: parse response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("providers: API returned error: %s", wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("providers: response has no choices")
	}

	msg := wire.Choices[0].Message
	response := &LLMResponse{
		Content: msg.Content,
		Usage:   wire.Usage,
	}

	for _, tc := range msg.ToolCalls {
		if tc.Function == nil || tc.Function.Name == "" {
			continue
		}
		req := ToolRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: map[string]interface{}{},
		}
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Arguments); err != nil {
				req.Arguments = map[string]interface{}{}
				req.ArgsError = fmt.Sprintf("tool arguments are not valid JSON: %v", err)
			}
		}
		response.ToolCalls = append(response.ToolCalls, req)
	}

	return response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
