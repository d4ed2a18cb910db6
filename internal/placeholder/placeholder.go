// Package placeholder enforces glossary terms on providers that cannot take
// instructions. Source terms are replaced with numbered markers ([PH0],
// [PH1], …) before translation and Restore substitutes the target terms
// afterwards.
package placeholder

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// placeholder reference in translated text
var rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)

// Protect replaces every occurrence of a source term in text with a
// numbered placeholder. Longer terms win over terms they contain. It returns
// the modified text and the replacements, indexed by placeholder number,
// that Restore puts back.
func Protect(text string, terms map[string]string) (string, []string) {
	re := termPattern(terms)
	if re == nil {
		return text, nil
	}

	var markers []string
	index := make(map[string]int)
	text = re.ReplaceAllStringFunc(text, func(match string) string {
		i, ok := index[match]
		if !ok {
			i = len(markers)
			index[match] = i
			markers = append(markers, terms[match])
		}
		return fmt.Sprintf("[PH%d]", i)
	})
	return text, markers
}

// termPattern builds an alternation of the source terms, longest first.
// Go's regexp prefers the earliest alternative at a given position.
func termPattern(terms map[string]string) *regexp.Regexp {
	sources := make([]string, 0, len(terms))
	for src := range terms {
		if strings.TrimSpace(src) != "" {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return nil
	}
	slices.SortFunc(sources, func(a, b string) int {
		if d := utf8.RuneCountInString(b) - utf8.RuneCountInString(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	for i, s := range sources {
		sources[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(strings.Join(sources, "|"))
}

// Restore substitutes [PHn] markers in text with the replacements returned
// by Protect. Unrecognised indices leave the placeholder as-is.
func Restore(text string, markers []string) string {
	if len(markers) == 0 {
		return text
	}
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

// Validate returns the indices of markers created by Protect that are
// missing from the translated text.
func Validate(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
