// Package voice defines the shared value types used across all MandiVoice
// packages.
//
// These types form the lingua franca between the model adapters, the pipeline
// orchestrator, the session manager, and the event sink. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package voice

import "time"

// AudioClip is one complete buffer of raw PCM audio — the atomic unit of voice
// input and output. The core assumes 16-bit signed little-endian samples.
type AudioClip struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT-optimised mono input).
	SampleRate int

	// Channels: 1 for mono (required by most STT models).
	Channels int
}

// Duration returns the playback length of the clip, assuming 16-bit samples.
// Returns zero for clips with an unset sample rate or channel count.
func (c AudioClip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.Data) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip carries no audio data.
func (c AudioClip) Empty() bool { return len(c.Data) == 0 }

// Transcript is a speech-to-text result from an STT adapter.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the adapter recognised the speech in.
	Language LanguageTag

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// adapter does not report confidence.
	Confidence float64
}

// Translation is a text-to-text result from a translation adapter.
type Translation struct {
	// Text is the translated content.
	Text string

	// Source and Target are the resolved language pair of the translation.
	Source LanguageTag
	Target LanguageTag

	// Confidence is the adapter's confidence in the translation (0.0–1.0).
	Confidence float64
}
