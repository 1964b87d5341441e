// Package negotiate produces counter-offer suggestions for an ongoing
// negotiation session using an LLM provider.
//
// The suggester is a thin consumer of the voice core: it reads a session's
// message history and asks the model for the next reply, running the call
// under retry and LLM health accounting like any other external service.
package negotiate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/internal/retry"
	"github.com/mandivoice/mandivoice/internal/session"
	"github.com/mandivoice/mandivoice/pkg/fault"
	"github.com/mandivoice/mandivoice/pkg/provider/llm"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxTokens   = 300

	systemPrompt = `You are a negotiation assistant for Indian agricultural commodity trade.
Given the conversation so far, suggest the seller's next reply: one or two short
sentences, firm but polite, grounded in typical mandi bargaining. Answer in the
requested language only, with no preamble or explanation.`
)

// Request describes one suggestion query.
type Request struct {
	// Owner is the user asking for the suggestion; their messages are
	// attributed to "seller" in the prompt.
	Owner string

	// Commodity optionally names the good under negotiation.
	Commodity string

	// Language is the language the suggestion must be written in.
	Language voice.LanguageTag

	// History is the session's message log in insertion order.
	History []session.Message
}

// Suggestion is the model's proposed next reply.
type Suggestion struct {
	Reply string
	Usage llm.Usage
}

// Suggester generates counter-offer suggestions. Safe for concurrent use.
type Suggester struct {
	llm       llm.Provider
	health    *health.Controller
	attempts  int
	baseDelay time.Duration
	maxTokens int
}

// SuggesterOption is a functional option for configuring a Suggester.
type SuggesterOption func(*Suggester)

// WithRetry overrides the attempt count and backoff base.
func WithRetry(attempts int, baseDelay time.Duration) SuggesterOption {
	return func(s *Suggester) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if baseDelay > 0 {
			s.baseDelay = baseDelay
		}
	}
}

// WithMaxTokens caps the model completion length.
func WithMaxTokens(n int) SuggesterOption {
	return func(s *Suggester) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// NewSuggester creates a Suggester over the given LLM provider and health
// controller.
func NewSuggester(provider llm.Provider, hc *health.Controller, opts ...SuggesterOption) *Suggester {
	s := &Suggester{
		llm:       provider,
		health:    hc,
		attempts:  defaultMaxAttempts,
		baseDelay: defaultBaseDelay,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Suggest asks the model for the next reply in the negotiation. The call runs
// under retry and records its outcome against the LLM service kind; a
// registered LLM fallback is dispatched per the health controller's rules.
func (s *Suggester) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	if req.Language != "" && !req.Language.IsSupported() {
		return Suggestion{}, fault.Newf(fault.KindValidation, "unsupported suggestion language %q", req.Language)
	}
	if len(req.History) == 0 {
		return Suggestion{}, fault.Newf(fault.KindValidation, "suggestion needs at least one message of history")
	}

	llmReq := s.buildRequest(req)
	retryCfg := retry.Config{
		MaxAttempts: s.attempts,
		BaseDelay:   s.baseDelay,
		RetryOn:     retryable,
		Name:        "negotiation suggestion",
	}

	resp, _, err := health.Execute(ctx, s.health, health.LLM, func(ctx context.Context) (llm.Response, error) {
		return retry.DoValue(ctx, retryCfg, func(ctx context.Context) (llm.Response, error) {
			return s.llm.Complete(ctx, llmReq)
		})
	}, llmReq)
	if err != nil {
		return Suggestion{}, fmt.Errorf("negotiate: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return Suggestion{}, fault.Newf(fault.KindService, "negotiate: model returned an empty suggestion")
	}
	return Suggestion{Reply: reply, Usage: resp.Usage}, nil
}

// buildRequest renders the session history into a chat request. The owner's
// messages take the assistant role so the model continues the seller's side.
func (s *Suggester) buildRequest(req Request) llm.Request {
	msgs := make([]llm.Message, 0, len(req.History)+1)

	var intro strings.Builder
	intro.WriteString("Negotiation")
	if req.Commodity != "" {
		fmt.Fprintf(&intro, " over %s", req.Commodity)
	}
	if req.Language != "" {
		fmt.Fprintf(&intro, ". Reply in %s", req.Language.DisplayName())
	}
	intro.WriteString(".")
	msgs = append(msgs, llm.Message{Role: "user", Content: intro.String()})

	for _, m := range req.History {
		role := "user"
		if m.SenderID == req.Owner {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}

	return llm.Request{
		System:    systemPrompt,
		Messages:  msgs,
		MaxTokens: s.maxTokens,
	}
}

// retryable reports whether an LLM error deserves another attempt. SDK errors
// arrive unclassified, so unknown kinds are treated as transient; explicit
// validation and cancellation never retry.
func retryable(err error) bool {
	switch fault.KindOf(err) {
	case fault.KindTransient, fault.KindUnknown:
		return true
	default:
		return false
	}
}
