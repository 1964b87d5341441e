// Package mock provides a test double for the stt package interfaces.
//
// Pre-populate the response queues with the values each successive call should
// return, then inspect the call records to verify what the caller sent.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcripts: []voice.Transcript{{Text: "tamatar ka bhav", Language: voice.Hindi, Confidence: 0.93}},
//	}
//	tr, err := p.Transcribe(ctx, clip, voice.Hindi)
package mock

import (
	"context"
	"sync"

	"github.com/mandivoice/mandivoice/pkg/provider/stt"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// DetectCall records a single invocation of Provider.DetectLanguage.
type DetectCall struct {
	// Clip is the audio passed to DetectLanguage.
	Clip voice.AudioClip
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Clip is the audio passed to Transcribe.
	Clip voice.AudioClip
	// Language is the language tag passed to Transcribe.
	Language voice.LanguageTag
}

// Provider is a mock implementation of stt.Provider.
//
// Each call consumes the head of the corresponding response queue. When the
// queue is exhausted the last element is repeated, so a single-element queue
// behaves as a fixed response. Error fields, when non-nil, win over queued
// responses; ErrsThenOK limits how many calls fail before the queue takes over.
type Provider struct {
	mu sync.Mutex

	// Detections is the queue of DetectLanguage results.
	Detections []stt.Detection

	// Transcripts is the queue of Transcribe results.
	Transcripts []voice.Transcript

	// DetectErr, if non-nil, is returned by every DetectLanguage call.
	DetectErr error

	// TranscribeErr, if non-nil, is returned by Transcribe. When ErrsThenOK is
	// positive only the first ErrsThenOK calls fail.
	TranscribeErr error

	// ErrsThenOK caps how many Transcribe calls return TranscribeErr before the
	// response queue is served. Zero means TranscribeErr always wins.
	ErrsThenOK int

	// DetectCalls records every call to DetectLanguage.
	DetectCalls []DetectCall

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// DetectLanguage records the call and returns the next queued Detection.
func (p *Provider) DetectLanguage(_ context.Context, clip voice.AudioClip) (stt.Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetectCalls = append(p.DetectCalls, DetectCall{Clip: clip})
	if p.DetectErr != nil {
		return stt.Detection{}, p.DetectErr
	}
	return dequeue(&p.Detections, len(p.DetectCalls)), nil
}

// Transcribe records the call and returns the next queued Transcript.
func (p *Provider) Transcribe(_ context.Context, clip voice.AudioClip, lang voice.LanguageTag) (voice.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Clip: clip, Language: lang})
	if p.TranscribeErr != nil {
		if p.ErrsThenOK == 0 || len(p.TranscribeCalls) <= p.ErrsThenOK {
			return voice.Transcript{}, p.TranscribeErr
		}
	}
	return dequeue(&p.Transcripts, len(p.TranscribeCalls)), nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetectCalls = nil
	p.TranscribeCalls = nil
}

// dequeue returns the call-th element of q, repeating the last element once
// the queue is exhausted. Returns the zero value for an empty queue.
func dequeue[T any](q *[]T, call int) T {
	var zero T
	s := *q
	if len(s) == 0 {
		return zero
	}
	if call-1 < len(s) {
		return s[call-1]
	}
	return s[len(s)-1]
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
