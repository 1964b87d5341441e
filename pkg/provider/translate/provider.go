// Package translate defines the Provider interface for text translation
// backends.
//
// A translation provider wraps a machine-translation service (e.g., a
// Bhashini NMT pipeline) and converts text between any pair of supported
// languages. Implementations must be safe for concurrent use.
package translate

import (
	"context"

	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate converts text from the source language to the target language.
	// Both tags must be supported; implementations are not required to validate
	// them beyond what the backend enforces.
	//
	// Callers skip the call entirely when source equals target; providers may
	// therefore assume the pair is distinct but must not misbehave when it is
	// not.
	Translate(ctx context.Context, text string, source, target voice.LanguageTag) (voice.Translation, error)
}
