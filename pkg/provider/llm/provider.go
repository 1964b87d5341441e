// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) behind a single non-streaming completion call.
// The negotiation assistant is the only consumer; it sends short conversation
// excerpts and expects a short suggestion back, so streaming and tool calling
// are out of scope.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Message is one turn of the conversation sent to the model.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the text of the turn.
	Content string
}

// Request carries everything the model needs to produce a completion. Messages
// must be non-empty; a zero-value request is invalid.
type Request struct {
	// System is an optional high-priority instruction injected before the
	// conversation. Providers that lack a dedicated system field prepend it as
	// a "system"-role message.
	System string

	// Messages is the ordered conversation history. The last message drives
	// the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means use the provider
	// default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the model's reply.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req Request) (Response, error)
}
