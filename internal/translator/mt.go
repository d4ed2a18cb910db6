package translator

import (
	"fmt"

	"github.com/valpere/epubtran/internal/glossary"
	"github.com/valpere/epubtran/internal/placeholder"
)

// protectTerms swaps the glossary terms in each text for placeholders. It is
// used by machine translation providers that take no instructions.
func protectTerms(texts []string, g *glossary.Glossary) ([]string, [][]string) {
	protected := make([]string, len(texts))
	markers := make([][]string, len(texts))
	for i, text := range texts {
		protected[i], markers[i] = placeholder.Protect(text, g.Map(text))
	}
	return protected, markers
}

// restoreTerms puts the target terms back. A segment whose engine dropped or
// rewrote a marker fails the batch as transient so it is requested again.
func restoreTerms(provider string, translated []string, markers [][]string) ([]string, error) {
	out := make([]string, len(translated))
	for i, text := range translated {
		if missing := placeholder.Validate(text, markers[i]); len(missing) > 0 {
			return nil, transient(provider, fmt.Errorf("%w: segment %d lost %d of %d markers", ErrPlaceholderLost, i, len(missing), len(markers[i])))
		}
		out[i] = placeholder.Restore(text, markers[i])
	}
	return out, nil
}
