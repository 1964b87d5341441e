// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a speech recognition service (e.g., a Bhashini ASR
// pipeline or a local inference server) and exposes two batch operations:
// language identification over a short audio sample and full transcription of
// an utterance in a known language.
//
// Implementations must be safe for concurrent use. Multiple utterances may be
// in flight simultaneously (one per active conversation).
package stt

import (
	"context"

	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Detection is the result of language identification over an audio sample.
type Detection struct {
	// Language is the detected language as an ISO 639-3 tag.
	Language voice.LanguageTag

	// Confidence is the provider's confidence in the detection, in [0, 1].
	Confidence float64
}

// Provider is the abstraction over any STT backend.
//
// Both methods must propagate context cancellation promptly: when ctx is
// cancelled the method must return as quickly as possible.
type Provider interface {
	// DetectLanguage identifies the spoken language of clip. Providers should
	// only need the first few seconds of audio; callers may pass the full clip.
	//
	// Returns an error if the audio is unintelligible or the backend fails.
	// A successful detection may still carry low confidence; the caller decides
	// whether to trust it.
	DetectLanguage(ctx context.Context, clip voice.AudioClip) (Detection, error)

	// Transcribe converts clip to text in the given language. lang must be a
	// supported tag; providers are not required to second-guess it.
	//
	// The returned Transcript carries the recognised text, the language it was
	// recognised in, and the provider's confidence.
	Transcribe(ctx context.Context, clip voice.AudioClip, lang voice.LanguageTag) (voice.Transcript, error)
}
