package document

import (
	"strings"
	"unicode"

	"golang.org/x/net/html/atom"
)

// Options controls which elements contribute text.
type Options struct {
	// SkipElements are local element names whose subtree is never translated,
	// in addition to script, style, svg, math and template.
	SkipElements []string `mapstructure:"skip_elements"`
	// MergeInline are local element names a run may continue through.
	MergeInline []string `mapstructure:"merge_inline"`
	// StripRuby drops furigana: ruby bases join the surrounding run and
	// rt/rp text is emptied on reassembly.
	StripRuby bool `mapstructure:"strip_ruby"`
}

// DefaultOptions returns the walker defaults.
func DefaultOptions() Options {
	return Options{StripRuby: true}
}

// TextRun is a translatable span made of one or more text nodes that are
// contiguous in document order. Lead and Trail hold the whitespace around
// Text and are restored on Apply.
type TextRun struct {
	ID    int
	Nodes []NodeID
	Text  string
	Lead  string
	Trail string
}

type class uint8

const (
	boundary class = iota
	skipped
	annotation
	transparent
)

type walker struct {
	tree        *Tree
	opts        Options
	skip        map[string]bool
	transparent map[string]bool
	pending     []NodeID
	runs        []TextRun
}

// ExtractRuns walks the tree depth-first in document order. A run never
// crosses a hyperlink, a skipped element or a block boundary.
func ExtractRuns(t *Tree, opts Options) []TextRun {
	w := &walker{
		tree:        t,
		opts:        opts,
		skip:        toSet(opts.SkipElements),
		transparent: toSet(opts.MergeInline),
	}
	w.walk(Root)
	w.flush()
	return w.runs
}

// PlainText returns the text of all runs, one per line, for the glossary
// pass. Furigana is never included.
func PlainText(t *Tree, opts Options) string {
	runs := ExtractRuns(t, opts)
	texts := make([]string, len(runs))
	for i, r := range runs {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n")
}

func (w *walker) walk(parent NodeID) {
	for c := w.tree.nodes[parent].FirstChild; c != None; c = w.tree.nodes[c].NextSibling {
		n := &w.tree.nodes[c]
		switch n.Kind {
		case TextNode:
			w.pending = append(w.pending, c)
		case ElementNode:
			switch w.classify(n) {
			case skipped:
				w.flush()
			case annotation:
			case transparent:
				w.walk(c)
			default:
				w.flush()
				w.walk(c)
				w.flush()
			}
		}
	}
}

func (w *walker) classify(n *Node) class {
	if v, ok := n.attr("translate"); ok && strings.EqualFold(strings.TrimSpace(v), "no") {
		return skipped
	}
	if v, ok := n.attr("class"); ok {
		for _, c := range strings.Fields(v) {
			if c == "notranslate" {
				return skipped
			}
		}
	}

	local := strings.ToLower(n.Name.Local)
	if w.skip[local] {
		return skipped
	}

	switch atom.Lookup([]byte(local)) {
	case atom.Script, atom.Style, atom.Svg, atom.Math, atom.Template, atom.Noscript:
		return skipped
	case atom.Rt, atom.Rp:
		return annotation
	case atom.A:
		return boundary
	case atom.Ruby, atom.Rb:
		if w.opts.StripRuby {
			return transparent
		}
		return boundary
	}

	if w.transparent[local] {
		return transparent
	}
	return boundary
}

func (w *walker) flush() {
	if len(w.pending) == 0 {
		return
	}
	defer func() { w.pending = w.pending[:0] }()

	var sb strings.Builder
	for _, id := range w.pending {
		sb.WriteString(w.tree.nodes[id].Text)
	}
	full := sb.String()

	core := strings.TrimSpace(full)
	if core == "" || !hasLetter(core) {
		return
	}
	lead := full[:len(full)-len(strings.TrimLeftFunc(full, unicode.IsSpace))]
	trail := full[len(strings.TrimRightFunc(full, unicode.IsSpace)):]

	nodes := make([]NodeID, len(w.pending))
	copy(nodes, w.pending)
	w.runs = append(w.runs, TextRun{
		ID:    len(w.runs),
		Nodes: nodes,
		Text:  core,
		Lead:  lead,
		Trail: trail,
	})
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}
