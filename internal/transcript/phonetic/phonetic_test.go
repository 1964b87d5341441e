package phonetic

import "testing"

var commodities = []string{
	"tamatar", "pyaaz", "aloo", "gehu", "moongfali", "lal mirchi",
}

func TestMatch_PhoneticVariants(t *testing.T) {
	m := New()

	tests := []struct {
		word string
		want string
	}{
		{"tamater", "tamatar"},
		{"tamaatar", "tamatar"},
		{"pyaz", "pyaaz"},
		{"gehoo", "gehu"},
		{"moong fali", "moongfali"},
	}
	for _, tc := range tests {
		t.Run(tc.word, func(t *testing.T) {
			got, score, ok := m.Match(tc.word, commodities)
			if !ok {
				t.Fatalf("Match(%q) found nothing", tc.word)
			}
			if got != tc.want {
				t.Errorf("Match(%q) = %q, want %q", tc.word, got, tc.want)
			}
			if score <= 0 {
				t.Errorf("score = %f, want > 0", score)
			}
		})
	}
}

func TestMatch_NoFalsePositives(t *testing.T) {
	m := New()

	for _, word := range []string{"kitna", "bhav", "kya", "market"} {
		got, _, ok := m.Match(word, commodities)
		if ok {
			t.Errorf("Match(%q) = %q, want no match", word, got)
		}
		if got != word {
			t.Errorf("unmatched word mutated: %q -> %q", word, got)
		}
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	m := New()

	if _, _, ok := m.Match("", commodities); ok {
		t.Error("empty word matched")
	}
	if _, _, ok := m.Match("tamater", nil); ok {
		t.Error("empty vocabulary matched")
	}
	if _, _, ok := m.Match("   ", commodities); ok {
		t.Error("whitespace word matched")
	}
}

func TestMatch_ThresholdOptions(t *testing.T) {
	// An impossible phonetic threshold rejects everything.
	strict := New(WithPhoneticThreshold(1.01), WithFuzzyThreshold(1.01))
	if got, _, ok := strict.Match("tamater", commodities); ok {
		t.Errorf("strict matcher accepted %q", got)
	}

	// A permissive fuzzy threshold accepts near-identical spellings even
	// without phonetic overlap.
	loose := New(WithFuzzyThreshold(0.5))
	if _, _, ok := loose.Match("tamater", commodities); !ok {
		t.Error("loose matcher rejected a close variant")
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	m := New()
	got, _, ok := m.Match("TAMATER", commodities)
	if !ok || got != "tamatar" {
		t.Errorf("Match(TAMATER) = %q/%v, want tamatar", got, ok)
	}
}
