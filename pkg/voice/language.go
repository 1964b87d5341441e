package voice

// LanguageTag is an ISO 639-3 language identifier (e.g., "hin", "tel", "eng").
type LanguageTag string

// The 22 scheduled Indian languages plus English, by ISO 639-3 tag. These are
// the only valid pipeline target languages; any other tag is a validation
// error at the pipeline edge.
const (
	Hindi     LanguageTag = "hin"
	Telugu    LanguageTag = "tel"
	Tamil     LanguageTag = "tam"
	Kannada   LanguageTag = "kan"
	Marathi   LanguageTag = "mar"
	Bengali   LanguageTag = "ben"
	Gujarati  LanguageTag = "guj"
	Punjabi   LanguageTag = "pan"
	Malayalam LanguageTag = "mal"
	Assamese  LanguageTag = "asm"
	Odia      LanguageTag = "ori"
	Urdu      LanguageTag = "urd"
	Kashmiri  LanguageTag = "kas"
	Konkani   LanguageTag = "kok"
	Nepali    LanguageTag = "nep"
	Bodo      LanguageTag = "brx"
	Dogri     LanguageTag = "doi"
	Maithili  LanguageTag = "mai"
	Manipuri  LanguageTag = "mni"
	Santali   LanguageTag = "sat"
	Sindhi    LanguageTag = "snd"
	Sanskrit  LanguageTag = "san"
	English   LanguageTag = "eng"
)

// supportedLanguages is the closed set of valid pipeline languages.
var supportedLanguages = map[LanguageTag]string{
	Hindi:     "Hindi",
	Telugu:    "Telugu",
	Tamil:     "Tamil",
	Kannada:   "Kannada",
	Marathi:   "Marathi",
	Bengali:   "Bengali",
	Gujarati:  "Gujarati",
	Punjabi:   "Punjabi",
	Malayalam: "Malayalam",
	Assamese:  "Assamese",
	Odia:      "Odia",
	Urdu:      "Urdu",
	Kashmiri:  "Kashmiri",
	Konkani:   "Konkani",
	Nepali:    "Nepali",
	Bodo:      "Bodo",
	Dogri:     "Dogri",
	Maithili:  "Maithili",
	Manipuri:  "Manipuri",
	Santali:   "Santali",
	Sindhi:    "Sindhi",
	Sanskrit:  "Sanskrit",
	English:   "English",
}

// IsSupported reports whether t is one of the 22 scheduled Indian languages or
// English.
func (t LanguageTag) IsSupported() bool {
	_, ok := supportedLanguages[t]
	return ok
}

// DisplayName returns the English display name of the language, or the raw tag
// when t is not a supported language.
func (t LanguageTag) DisplayName() string {
	if name, ok := supportedLanguages[t]; ok {
		return name
	}
	return string(t)
}

// SupportedLanguages returns the full set of valid pipeline language tags.
// The returned slice is a fresh copy in unspecified order.
func SupportedLanguages() []LanguageTag {
	out := make([]LanguageTag, 0, len(supportedLanguages))
	for tag := range supportedLanguages {
		out = append(out, tag)
	}
	return out
}
