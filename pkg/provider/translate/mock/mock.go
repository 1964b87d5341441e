// Package mock provides a test double for the translate package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/mandivoice/mandivoice/pkg/provider/translate"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	// Text is the input text passed to Translate.
	Text string
	// Source and Target are the language pair passed to Translate.
	Source, Target voice.LanguageTag
}

// Provider is a mock implementation of translate.Provider.
//
// Each call consumes the head of Translations, repeating the last element once
// the queue is exhausted. TranslateErr, when non-nil, wins over the queue;
// ErrsThenOK limits how many calls fail before the queue takes over.
type Provider struct {
	mu sync.Mutex

	// Translations is the queue of Translate results.
	Translations []voice.Translation

	// TranslateErr, if non-nil, is returned by Translate.
	TranslateErr error

	// ErrsThenOK caps how many calls return TranslateErr before the queue is
	// served. Zero means TranslateErr always wins.
	ErrsThenOK int

	// Echo, when true and the queue is empty, returns the input text unchanged
	// with confidence 1.0. Convenient for pipeline tests that only care about
	// plumbing.
	Echo bool

	// TranslateCalls records every call to Translate.
	TranslateCalls []TranslateCall
}

// Translate records the call and returns the next queued Translation.
func (p *Provider) Translate(_ context.Context, text string, source, target voice.LanguageTag) (voice.Translation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Text: text, Source: source, Target: target})
	if p.TranslateErr != nil {
		if p.ErrsThenOK == 0 || len(p.TranslateCalls) <= p.ErrsThenOK {
			return voice.Translation{}, p.TranslateErr
		}
	}
	if len(p.Translations) == 0 && p.Echo {
		return voice.Translation{Text: text, Source: source, Target: target, Confidence: 1.0}, nil
	}
	if len(p.Translations) == 0 {
		return voice.Translation{}, nil
	}
	idx := len(p.TranslateCalls) - 1
	if idx >= len(p.Translations) {
		idx = len(p.Translations) - 1
	}
	return p.Translations[idx], nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
}

// Ensure Provider implements translate.Provider at compile time.
var _ translate.Provider = (*Provider)(nil)
