package transcript_test

import (
	"testing"

	"github.com/mandivoice/mandivoice/internal/transcript"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

func TestCorrector_FixesMisheardCommodities(t *testing.T) {
	c := transcript.NewCorrector()

	tests := []struct {
		in   string
		want string
	}{
		{"tamater ka bhav kya hai", "tamatar ka bhav kya hai"},
		{"pyaz aur alu ka rate", "pyaaz aur aloo ka rate"},
		{"gehoo bechna hai", "gehu bechna hai"},
	}
	for _, tc := range tests {
		if got := c.Correct(tc.in, voice.Hindi); got != tc.want {
			t.Errorf("Correct(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCorrector_LeavesCorrectTextAlone(t *testing.T) {
	c := transcript.NewCorrector()

	for _, text := range []string{
		"tamatar ka bhav kya hai",
		"",
		"ok",
	} {
		if got := c.Correct(text, voice.Hindi); got != text {
			t.Errorf("Correct(%q) = %q, want unchanged", text, got)
		}
	}
}

func TestCorrector_NonLatinPassThrough(t *testing.T) {
	c := transcript.NewCorrector()

	// Devanagari and Telugu scripts are never touched.
	for _, text := range []string{
		"टमाटर का भाव क्या है",
		"టమోటా ధర ఎంత",
	} {
		if got := c.Correct(text, voice.Hindi); got != text {
			t.Errorf("Correct(%q) = %q, want pass-through", text, got)
		}
	}
}

func TestCorrector_PreservesPunctuation(t *testing.T) {
	c := transcript.NewCorrector()

	got := c.Correct("tamater, alu?", voice.Hindi)
	if got != "tamatar, aloo?" {
		t.Errorf("Correct = %q, want punctuation preserved", got)
	}
}

func TestCorrector_LanguageVocabulary(t *testing.T) {
	c := transcript.NewCorrector(
		transcript.WithLanguageVocabulary(voice.Telugu, "pasupu"),
	)

	// The Telugu-only term is corrected under tel but not under hin.
	if got := c.Correct("pasapu rate", voice.Telugu); got != "pasupu rate" {
		t.Errorf("Correct under tel = %q, want pasupu rate", got)
	}
	if got := c.Correct("pasapu rate", voice.Hindi); got != "pasapu rate" {
		t.Errorf("Correct under hin = %q, want unchanged", got)
	}
}

func TestCorrector_CustomVocabulary(t *testing.T) {
	c := transcript.NewCorrector(transcript.WithVocabulary("kesar"))

	if got := c.Correct("kesur mandi", voice.Hindi); got != "kesar mandi" {
		t.Errorf("Correct = %q, want kesar mandi", got)
	}
	// The default vocabulary is replaced, so tamater is no longer corrected.
	if got := c.Correct("tamater", voice.Hindi); got != "tamater" {
		t.Errorf("Correct = %q, want unchanged without default vocabulary", got)
	}
}

// stubMatcher corrects every word to a fixed term.
type stubMatcher struct{ term string }

func (s stubMatcher) Match(string, []string) (string, float64, bool) {
	return s.term, 1, true
}

func TestCorrector_CustomMatcher(t *testing.T) {
	c := transcript.NewCorrector(transcript.WithMatcher(stubMatcher{term: "onion"}))

	if got := c.Correct("whatever words", voice.English); got != "onion onion" {
		t.Errorf("Correct = %q, want every word replaced", got)
	}
}
