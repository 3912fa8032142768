package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedProvider replays a fixed sequence of responses and records the
// requests it received. Intended for tests and the dry-run mode.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []*Response
	next      int

	// Requests holds every request seen, in order.
	Requests []*Request
}

// NewScripted creates a provider that returns the given responses in order.
func NewScripted(responses ...*Response) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Name returns the provider identifier.
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Generate records the request and returns the next scripted response.
func (p *ScriptedProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.next >= len(p.responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d responses", len(p.responses))
	}
	resp := p.responses[p.next]
	p.next++
	return resp, nil
}
