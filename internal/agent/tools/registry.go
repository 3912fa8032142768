// Package tools provides the tool registry and the dispatch gate the
// agent loop routes every model-proposed tool call through. Each tool
// declares a capability class; the gate enforces that the class matches
// the session's data source before anything executes.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/1274866478-stack/data-agent-sub005/internal/ledger"
	"github.com/1274866478-stack/data-agent-sub005/internal/llm"
)

// Tool is the interface all agent tools implement.
type Tool interface {
	Name() string
	Description() string
	Capability() ledger.CapabilityClass
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Registry manages registered tools for a session. Thread-safe for
// concurrent access.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any previous tool with
// the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// LLMTools returns the registered tools as provider tool definitions,
// optionally filtered to one capability class. Pass an empty class to get
// everything.
func (r *Registry) LLMTools(class ledger.CapabilityClass) []llm.Tool {
	var out []llm.Tool
	for _, t := range r.List() {
		if class != "" && t.Capability() != class && t.Capability() != ledger.CapabilityChart {
			continue
		}
		out = append(out, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return out
}
