// Package chunker splits large texts into pieces that fit a provider's
// context while keeping paragraphs and sentences intact where possible. It
// also extracts a trailing context snippet so consecutive requests can keep
// narrative continuity.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultContextRunes is the default length of the snippet returned by
	// ExtractContext.
	DefaultContextRunes = 200
)

// Chunk splits text into pieces each no longer than maxChars unicode
// code points. Splits are attempted (in order of preference) at:
//  1. Paragraph boundaries (blank line, then single newline)
//  2. Sentence-ending punctuation (Japanese 。！？ or Latin . ! ? before a space)
//  3. Whitespace
//  4. Hard cut at maxChars if no suitable boundary is found
//
// If text fits entirely within maxChars, a single-element slice is returned.
// If maxChars ≤ 0 it is treated as unlimited.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 || len([]rune(text)) <= maxChars {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)

	for len(remaining) > maxChars {
		split := findSplit(remaining, maxChars)
		if chunk := strings.TrimSpace(string(remaining[:split])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[split:])))
	}

	if rest := strings.TrimSpace(string(remaining)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// findSplit returns the rune index at which to split, never above maxChars
// and never zero.
func findSplit(runes []rune, maxChars int) int {
	candidate := runes[:maxChars]

	// 1. Paragraph boundary.
	if i := lastIndex(candidate, []rune("\n\n")); i > 0 {
		return i + 2
	}
	if i := lastIndex(candidate, []rune("\n")); i > 0 {
		return i + 1
	}

	// 2. Sentence end. Japanese punctuation needs no following space.
	for i := len(candidate) - 1; i > 0; i-- {
		switch r := candidate[i]; {
		case isCJKSentenceEnd(r):
			return i + 1
		case r == '.' || r == '!' || r == '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				return i + 1
			}
		}
	}

	// 3. Whitespace.
	for i := len(candidate) - 1; i > 0; i-- {
		if unicode.IsSpace(candidate[i]) {
			return i
		}
	}

	// 4. Hard cut.
	return maxChars
}

func isCJKSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '」', '』':
		return true
	}
	return false
}

// lastIndex returns the last index of sub within s, or -1.
func lastIndex(s, sub []rune) int {
outer:
	for i := len(s) - len(sub); i >= 0; i-- {
		for j := range sub {
			if s[i+j] != sub[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// ExtractContext returns roughly the last maxRunes runes of text, starting
// at a sentence boundary when one falls inside the window. It is passed to
// LLM providers as read-only context for the next request.
// If maxRunes ≤ 0, DefaultContextRunes is used.
func ExtractContext(text string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultContextRunes
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxRunes {
		return string(runes)
	}

	window := runes[len(runes)-maxRunes:]
	// Drop the partial sentence at the start of the window.
	for i, r := range window[:len(window)-1] {
		if isCJKSentenceEnd(r) || r == '\n' || ((r == '.' || r == '!' || r == '?') && unicode.IsSpace(window[i+1])) {
			if rest := strings.TrimSpace(string(window[i+1:])); rest != "" {
				return rest
			}
			break
		}
	}
	return strings.TrimSpace(string(window))
}
