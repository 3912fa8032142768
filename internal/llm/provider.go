// Package llm abstracts the model providers the agent loop talks to.
// Providers translate between the loop's tool-calling conversation shape
// and each vendor's chat API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every single model call regardless of the turn
// deadline above it.
const TimeoutLLMCall = 60 * time.Second

var (
	// ErrProviderNotAvailable is returned when the configured provider
	// cannot be constructed (missing key, unknown name).
	ErrProviderNotAvailable = errors.New("provider not available")
	// ErrEmptyResponse is returned when the provider answers with no
	// choices at all.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// Provider is the interface all model providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Message represents one chat message. ToolCallID and Name are only set
// for role "tool" (a tool result fed back to the model); ToolCalls is only
// set for assistant messages that requested tool invocations.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string
	Name       string
	ToolCalls  []ToolCall
}

// Tool describes a callable tool exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Response represents a generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
	ToolCalls    []ToolCall
}

// ToolCall is a model request to invoke a tool. Arguments is the raw JSON
// object the model produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}
