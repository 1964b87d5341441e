// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a Bhashini TTS
// pipeline) and renders text into an audio clip in the requested language.
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech in the given language and returns the
	// resulting audio clip. lang must be a supported tag.
	//
	// Implementations must propagate context cancellation promptly.
	Synthesize(ctx context.Context, text string, lang voice.LanguageTag) (voice.AudioClip, error)
}
