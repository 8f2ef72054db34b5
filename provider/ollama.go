package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.1"
)

// OllamaConfig holds configuration for the Ollama provider.
type OllamaConfig struct {
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// OllamaProvider implements Provider against a local Ollama server
// using its non-streaming chat endpoint.
type OllamaProvider struct {
	config OllamaConfig
}

// NewOllamaProvider creates a new Ollama provider with the given config.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OllamaProvider{config: cfg}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// ollamaRequest is the request body for the /api/chat endpoint.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse is the non-streaming response from /api/chat.
type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	reqBody := &ollamaRequest{
		Model:  p.config.Model,
		Stream: false,
	}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if p.config.Temperature != 0 || p.config.MaxTokens > 0 {
		reqBody.Options = &ollamaOptions{
			Temperature: p.config.Temperature,
			NumPredict:  p.config.MaxTokens,
		}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("ollama: unmarshal response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", apiResp.Error)
	}

	return &Response{
		Content: apiResp.Message.Content,
		Model:   apiResp.Model,
		Usage: Usage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
		},
	}, nil
}
