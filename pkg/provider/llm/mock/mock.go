// Package mock provides a test double for the llm package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/mandivoice/mandivoice/pkg/provider/llm"
)

// CompleteCall records a single invocation of Provider.Complete.
type CompleteCall struct {
	// Req is the request passed to Complete.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
//
// Each call consumes the head of Responses, repeating the last element once
// the queue is exhausted. CompleteErr, when non-nil, wins over the queue;
// ErrsThenOK limits how many calls fail before the queue takes over.
type Provider struct {
	mu sync.Mutex

	// Responses is the queue of Complete results.
	Responses []llm.Response

	// CompleteErr, if non-nil, is returned by Complete.
	CompleteErr error

	// ErrsThenOK caps how many calls return CompleteErr before the queue is
	// served. Zero means CompleteErr always wins.
	ErrsThenOK int

	// CompleteCalls records every call to Complete.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next queued Response.
func (p *Provider) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	if p.CompleteErr != nil {
		if p.ErrsThenOK == 0 || len(p.CompleteCalls) <= p.ErrsThenOK {
			return llm.Response{}, p.CompleteErr
		}
	}
	if len(p.Responses) == 0 {
		return llm.Response{}, nil
	}
	idx := len(p.CompleteCalls) - 1
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	return p.Responses[idx], nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
