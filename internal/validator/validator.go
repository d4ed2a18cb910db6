// Package validator checks that a translation result is in the expected target language.
package validator

import (
	"fmt"
	"strings"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/valpere/epubtran/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// Validator checks that a translation result is written in the expected target language.
// The underlying language detector is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator backed by the lingua-go language detector. The
// given ISO codes are added to the detector's default candidates.
func New(languages ...string) *Validator {
	var extra []lingua.Language
	for _, code := range languages {
		if lang, ok := detector.LanguageFromISO(code); ok {
			extra = append(extra, lang)
		}
	}
	return &Validator{det: detector.New(extra...)}
}

// IsValid returns true when translatedText appears to be written in targetLang.
//
// Short texts (fewer than minValidationLength runes) and texts whose language
// cannot be determined pass without error. When the detected language differs
// from targetLang the returned error names both codes.
func (v *Validator) IsValid(translatedText, targetLang string) (bool, error) {
	if targetLang == "" {
		return true, nil
	}

	text := strings.TrimSpace(translatedText)
	if text == "" {
		return false, fmt.Errorf("translation is empty")
	}

	// Detector is unreliable for very short texts; skip validation.
	if len([]rune(text)) < minValidationLength {
		return true, nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return true, nil
	}

	base, _, _ := strings.Cut(targetLang, "-")
	if !strings.EqualFold(detected, base) {
		return false, fmt.Errorf("expected %s but detected %s", targetLang, detected)
	}

	return true, nil
}

// CheckBatch validates every translated segment and reports the first
// failure with its index.
func (v *Validator) CheckBatch(translated []string, targetLang string) error {
	for i, text := range translated {
		if ok, err := v.IsValid(text, targetLang); !ok {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}
