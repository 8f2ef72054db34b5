// Package provider defines the AI provider interface behind plan
// decomposition.
package provider

import "context"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is a completed provider response.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is an AI backend that turns decomposition prompts into
// structured answers.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "ollama", "mock").
	Name() string

	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, messages []Message) (*Response, error)
}
