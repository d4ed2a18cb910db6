// Package detector identifies the language of book text.
package detector

import (
	"slices"
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// DefaultLanguages are the candidates when New is called without any. A
// small set keeps the detector's language models cheap to load.
var DefaultLanguages = []lingua.Language{lingua.Japanese, lingua.Korean, lingua.Chinese, lingua.English}

type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector over DefaultLanguages plus languages.
func New(languages ...lingua.Language) *Detector {
	candidates := slices.Clone(DefaultLanguages)
	for _, l := range languages {
		if l != lingua.Unknown && !slices.Contains(candidates, l) {
			candidates = append(candidates, l)
		}
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(candidates...).
		Build()

	return &Detector{detector: detector}
}

// LanguageFromISO maps an ISO 639-1 code (or a BCP 47 tag such as "ja-JP")
// to a lingua language.
func LanguageFromISO(code string) (lingua.Language, bool) {
	base, _, _ := strings.Cut(strings.TrimSpace(code), "-")
	if base == "" {
		return lingua.Unknown, false
	}
	iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(base))
	lang := lingua.GetLanguageFromIsoCode639_1(iso)
	return lang, lang != lingua.Unknown
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lower-case ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
