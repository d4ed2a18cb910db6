package document

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Apply writes translated[i] into runs[i]. The whole translation goes into
// the run's outermost text node, the first one not nested inside an inline
// element the run merged through, and the remaining nodes are emptied. The
// element set is unchanged. A translation equal to the run's text leaves
// the nodes untouched.
func Apply(t *Tree, runs []TextRun, translated []string) error {
	if len(runs) != len(translated) {
		return fmt.Errorf("%w: %d runs, %d translations", ErrRunMismatch, len(runs), len(translated))
	}
	for _, run := range runs {
		if len(run.Nodes) == 0 {
			return fmt.Errorf("%w: run %d has no nodes", ErrRunMismatch, run.ID)
		}
		for _, id := range run.Nodes {
			if int(id) <= 0 || int(id) >= len(t.nodes) || t.nodes[id].Kind != TextNode {
				return fmt.Errorf("%w: run %d references node %d which is not text", ErrRunMismatch, run.ID, id)
			}
		}
	}

	for i, run := range runs {
		if translated[i] == run.Text {
			continue
		}
		target := t.outermost(run.Nodes)
		for _, id := range run.Nodes {
			if id == target {
				t.setText(id, run.Lead+sanitize(translated[i])+run.Trail)
			} else {
				t.setText(id, "")
			}
		}
	}
	return nil
}

// outermost returns the first of ids with the fewest ancestors.
func (t *Tree) outermost(ids []NodeID) NodeID {
	best, bestDepth := ids[0], t.depth(ids[0])
	for _, id := range ids[1:] {
		if d := t.depth(id); d < bestDepth {
			best, bestDepth = id, d
		}
	}
	return best
}

func (t *Tree) depth(id NodeID) int {
	d := 0
	for p := t.nodes[id].Parent; p != None; p = t.nodes[p].Parent {
		d++
	}
	return d
}

// StripRuby empties the text of every rt and rp element and returns the
// number of text nodes changed.
func StripRuby(t *Tree) int {
	changed := 0
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Kind != ElementNode {
			continue
		}
		switch atom.Lookup([]byte(strings.ToLower(n.Name.Local))) {
		case atom.Rt, atom.Rp:
			changed += t.clearText(NodeID(i))
		}
	}
	return changed
}

func (t *Tree) clearText(parent NodeID) int {
	changed := 0
	for c := t.nodes[parent].FirstChild; c != None; c = t.nodes[c].NextSibling {
		switch t.nodes[c].Kind {
		case TextNode:
			if t.nodes[c].Text != "" {
				t.setText(c, "")
				changed++
			}
		case ElementNode:
			changed += t.clearText(c)
		}
	}
	return changed
}

func (t *Tree) setText(id NodeID, text string) {
	n := &t.nodes[id]
	if n.Text == text {
		return
	}
	n.Text = text
	n.dirty = true
}

// Render serializes the tree. Untouched nodes are written from their source
// bytes. The output is re-parsed and must keep the element count, one text
// node for every non-empty text node of the tree and the href sequence;
// otherwise ErrSerialization is returned. Emptied text nodes have no
// serialization and are not counted.
func Render(t *Tree) ([]byte, error) {
	var buf bytes.Buffer
	t.render(&buf, Root)
	buf.Write(t.tail)
	out := buf.Bytes()

	check, err := Parse(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if check.ElementCount() != t.ElementCount() {
		return nil, fmt.Errorf("%w: element count %d, expected %d", ErrSerialization, check.ElementCount(), t.ElementCount())
	}
	if got, want := check.TextCount(), t.TextCount(); got != want {
		return nil, fmt.Errorf("%w: %d text nodes, expected %d", ErrSerialization, got, want)
	}
	if !slices.Equal(check.Hrefs(), t.Hrefs()) {
		return nil, fmt.Errorf("%w: hyperlink targets changed", ErrSerialization)
	}
	return out, nil
}

func (t *Tree) render(buf *bytes.Buffer, id NodeID) {
	n := &t.nodes[id]
	switch n.Kind {
	case DocumentNode:
		t.renderChildren(buf, id)
	case ElementNode:
		buf.Write(n.raw)
		t.renderChildren(buf, id)
		buf.Write(n.endRaw)
	case TextNode:
		if n.dirty {
			buf.WriteString(html.EscapeString(n.Text))
		} else {
			buf.Write(n.raw)
		}
	default:
		buf.Write(n.raw)
	}
}

func (t *Tree) renderChildren(buf *bytes.Buffer, id NodeID) {
	for c := t.nodes[id].FirstChild; c != None; c = t.nodes[c].NextSibling {
		t.render(buf, c)
	}
}

// sanitize drops characters that are not allowed in XML 1.0 documents.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		case r >= 0xD800 && r <= 0xDFFF:
			return -1
		}
		return r
	}, s)
}
