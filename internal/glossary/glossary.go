// Package glossary holds the book-wide terminology table and the builder
// that extracts it from the whole book before any chapter is translated.
//
// A Glossary is immutable: the constructor copies its input and accessors
// return copies, so one value can be shared by every chapter worker.
package glossary

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// Entry maps a source-language term to its fixed translation.
type Entry struct {
	Term        string `json:"term"`
	Translation string `json:"translation"`
	Note        string `json:"note,omitempty"`
}

// Glossary is an immutable set of entries keyed by normalized term.
type Glossary struct {
	entries  []Entry
	index    map[string]int
	degraded bool
}

// New builds a Glossary from entries in order. When two entries share a
// term the later one wins and the conflict is logged. Entries with an empty
// term or translation are dropped.
func New(entries []Entry, logger logrus.FieldLogger) *Glossary {
	if logger == nil {
		logger = discardLogger()
	}

	g := &Glossary{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		e.Term = strings.TrimSpace(e.Term)
		e.Translation = strings.TrimSpace(e.Translation)
		e.Note = strings.TrimSpace(e.Note)
		if e.Term == "" || e.Translation == "" {
			continue
		}

		key := Normalize(e.Term)
		if i, ok := g.index[key]; ok {
			if old := g.entries[i]; old.Translation != e.Translation {
				logger.WithFields(logrus.Fields{
					"term": e.Term,
					"old":  old.Translation,
					"new":  e.Translation,
				}).Info("Glossary conflict, keeping the later translation")
			}
			g.entries[i] = e
			continue
		}
		g.index[key] = len(g.entries)
		g.entries = append(g.entries, e)
	}

	slices.SortStableFunc(g.entries, func(a, b Entry) int {
		return strings.Compare(a.Term, b.Term)
	})
	for i, e := range g.entries {
		g.index[Normalize(e.Term)] = i
	}
	return g
}

// Empty returns a glossary with no entries.
func Empty() *Glossary {
	return &Glossary{index: map[string]int{}}
}

// Merge combines glossaries; entries of later glossaries override earlier
// ones without being reported as conflicts.
func Merge(base *Glossary, overrides ...*Glossary) *Glossary {
	all := base.Entries()
	for _, o := range overrides {
		all = append(all, o.Entries()...)
	}
	return New(all, nil)
}

// Normalize returns the lookup key for a term.
func Normalize(term string) string {
	return norm.NFKC.String(strings.TrimSpace(term))
}

// Len returns the number of entries.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Entries returns a copy of the entries sorted by term.
func (g *Glossary) Entries() []Entry {
	if g == nil {
		return nil
	}
	return slices.Clone(g.entries)
}

// Lookup returns the entry for term.
func (g *Glossary) Lookup(term string) (Entry, bool) {
	if g == nil {
		return Entry{}, false
	}
	i, ok := g.index[Normalize(term)]
	if !ok {
		return Entry{}, false
	}
	return g.entries[i], true
}

// Relevant returns the entries whose term occurs in any of texts.
func (g *Glossary) Relevant(texts ...string) []Entry {
	if g.Len() == 0 {
		return nil
	}
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = norm.NFKC.String(t)
	}

	var out []Entry
	for _, e := range g.entries {
		key := Normalize(e.Term)
		for _, t := range normalized {
			if strings.Contains(t, key) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Map returns term → translation for the entries relevant to texts, or for
// all entries when texts is empty.
func (g *Glossary) Map(texts ...string) map[string]string {
	entries := g.Entries()
	if len(texts) > 0 {
		entries = g.Relevant(texts...)
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Term] = e.Translation
	}
	return m
}

// Fingerprint identifies a set of entries independent of their order. It is
// empty for no entries, so text translated without glossary terms keeps a
// stable key.
func Fingerprint(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = Normalize(e.Term) + "\x1f" + strings.TrimSpace(e.Translation)
	}
	slices.Sort(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\x1e")))
	return hex.EncodeToString(sum[:12])
}

// Degraded reports whether the glossary is the empty fallback of a failed
// build.
func (g *Glossary) Degraded() bool {
	return g != nil && g.degraded
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
