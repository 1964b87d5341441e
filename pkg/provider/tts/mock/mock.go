// Package mock provides a test double for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/mandivoice/mandivoice/pkg/provider/tts"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Text is the input text passed to Synthesize.
	Text string
	// Language is the language tag passed to Synthesize.
	Language voice.LanguageTag
}

// Provider is a mock implementation of tts.Provider.
//
// Each call consumes the head of Clips, repeating the last element once the
// queue is exhausted. SynthesizeErr, when non-nil, wins over the queue;
// ErrsThenOK limits how many calls fail before the queue takes over.
type Provider struct {
	mu sync.Mutex

	// Clips is the queue of Synthesize results.
	Clips []voice.AudioClip

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// ErrsThenOK caps how many calls return SynthesizeErr before the queue is
	// served. Zero means SynthesizeErr always wins.
	ErrsThenOK int

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the next queued AudioClip.
func (p *Provider) Synthesize(_ context.Context, text string, lang voice.LanguageTag) (voice.AudioClip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Language: lang})
	if p.SynthesizeErr != nil {
		if p.ErrsThenOK == 0 || len(p.SynthesizeCalls) <= p.ErrsThenOK {
			return voice.AudioClip{}, p.SynthesizeErr
		}
	}
	if len(p.Clips) == 0 {
		return voice.AudioClip{}, nil
	}
	idx := len(p.SynthesizeCalls) - 1
	if idx >= len(p.Clips) {
		idx = len(p.Clips) - 1
	}
	return p.Clips[idx], nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
