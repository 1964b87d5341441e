// Package transcript post-processes speech-to-text output for the mandi
// domain. STT models routinely mangle commodity names spoken in code-mixed
// Indian languages ("tamater", "pyaj"); the [Corrector] realigns such words to
// a known commodity vocabulary using phonetic matching.
package transcript

import (
	"strings"
	"unicode"

	"github.com/mandivoice/mandivoice/internal/transcript/phonetic"
	"github.com/mandivoice/mandivoice/pkg/voice"
)

// PhoneticMatcher aligns a single word (or short phrase) against a known
// vocabulary. Implemented by [phonetic.Matcher].
type PhoneticMatcher interface {
	// Match returns the best-matching term, its similarity score, and whether
	// a match above threshold was found. When matched is false, corrected
	// equals word unchanged.
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// defaultVocabulary lists the romanized commodity names traded in most
// mandis. Misheard variants ("tamater", "pyaj", "alu") map onto these
// phonetically.
var defaultVocabulary = []string{
	"tamatar", "pyaaz", "aloo", "gehu", "chawal", "makka",
	"kapas", "sarson", "haldi", "mirchi", "moongfali", "ganna",
	"tomato", "onion", "potato", "wheat", "rice", "maize",
	"cotton", "mustard", "turmeric", "chilli", "groundnut", "sugarcane",
	"soybean", "bajra", "jowar", "chana", "masoor", "urad",
}

// minWordLen is the shortest word considered for correction. Shorter tokens
// are too ambiguous phonetically.
const minWordLen = 3

// Corrector rewrites likely-misheard commodity names in a transcription. It
// is read-only after construction and safe for concurrent use.
//
// Only Latin-script words are considered: for Indic scripts and unknown
// languages the corrector is a neutral pass-through.
type Corrector struct {
	matcher PhoneticMatcher
	vocab   []string

	// extra holds per-language vocabulary additions, e.g. regional commodity
	// names the default romanized list misses.
	extra map[voice.LanguageTag][]string
}

// CorrectorOption is a functional option for configuring a Corrector.
type CorrectorOption func(*Corrector)

// WithVocabulary replaces the default commodity vocabulary.
func WithVocabulary(terms ...string) CorrectorOption {
	return func(c *Corrector) {
		if len(terms) > 0 {
			c.vocab = terms
		}
	}
}

// WithLanguageVocabulary adds terms consulted only for the given language.
func WithLanguageVocabulary(lang voice.LanguageTag, terms ...string) CorrectorOption {
	return func(c *Corrector) {
		c.extra[lang] = append(c.extra[lang], terms...)
	}
}

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m PhoneticMatcher) CorrectorOption {
	return func(c *Corrector) {
		if m != nil {
			c.matcher = m
		}
	}
}

// NewCorrector creates a commodity-name corrector with the default vocabulary
// and a Double Metaphone + Jaro-Winkler matcher.
func NewCorrector(opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		matcher: phonetic.New(),
		vocab:   defaultVocabulary,
		extra:   make(map[voice.LanguageTag][]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with likely-misheard commodity names replaced by their
// vocabulary form. Words already in the vocabulary, words shorter than three
// characters, and non-Latin words are left untouched. Whitespace between
// words is normalized to single spaces.
func (c *Corrector) Correct(text string, lang voice.LanguageTag) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}

	vocab := c.vocab
	if extra := c.extra[lang]; len(extra) > 0 {
		vocab = append(append(make([]string, 0, len(vocab)+len(extra)), vocab...), extra...)
	}

	changed := false
	out := make([]string, len(words))
	for i, word := range words {
		out[i] = word
		core, prefix, suffix := trimPunct(word)
		if len([]rune(core)) < minWordLen || !isLatin(core) {
			continue
		}
		if containsFold(vocab, core) {
			continue
		}
		if corrected, _, ok := c.matcher.Match(core, vocab); ok {
			out[i] = prefix + corrected + suffix
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(out, " ")
}

// trimPunct splits leading and trailing punctuation off a token.
func trimPunct(word string) (core, prefix, suffix string) {
	runes := []rune(word)
	start, end := 0, len(runes)
	for start < end && unicode.IsPunct(runes[start]) {
		start++
	}
	for end > start && unicode.IsPunct(runes[end-1]) {
		end--
	}
	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}

// isLatin reports whether every letter in s belongs to the Latin script.
func isLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

// containsFold reports whether terms contains s case-insensitively.
func containsFold(terms []string, s string) bool {
	for _, t := range terms {
		if strings.EqualFold(t, s) {
			return true
		}
	}
	return false
}
