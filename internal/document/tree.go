// Package document parses XHTML content documents into an arena of nodes,
// extracts translatable text runs and writes translations back without
// touching elements, attributes or link targets.
package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	// ErrMalformedMarkup is returned by Parse for documents that are not
	// well-formed XML.
	ErrMalformedMarkup = errors.New("malformed markup")
	// ErrSerialization is returned by Render when the rewritten tree does
	// not serialize back into an equivalent well-formed document.
	ErrSerialization = errors.New("serialization failed")
	// ErrRunMismatch is returned by Apply when the translations do not line
	// up with the runs.
	ErrRunMismatch = errors.New("run/translation count mismatch")
)

// NodeID indexes a node in its Tree. IDs are stable for the tree's lifetime.
type NodeID int32

// None marks a missing parent, child or sibling.
const None NodeID = -1

type NodeKind uint8

const (
	DocumentNode NodeKind = iota
	ElementNode
	TextNode
	CommentNode
	ProcInstNode
	DirectiveNode
)

// Node is one arena entry. Name.Space holds the literal prefix as written
// in the source, not a resolved namespace URL.
type Node struct {
	Kind        NodeKind
	Parent      NodeID
	FirstChild  NodeID
	LastChild   NodeID
	NextSibling NodeID
	Name        xml.Name
	Attrs       []xml.Attr
	Text        string

	raw    []byte
	endRaw []byte
	dirty  bool
}

// Tree is a parsed document. The node set is fixed after Parse; only text
// payloads change.
type Tree struct {
	nodes []Node
	tail  []byte
}

// Root is the document node.
const Root NodeID = 0

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

func (t *Tree) append(parent NodeID, n Node) NodeID {
	id := NodeID(len(t.nodes))
	n.Parent = parent
	n.FirstChild, n.LastChild, n.NextSibling = None, None, None
	t.nodes = append(t.nodes, n)
	if parent == None {
		return id
	}
	p := &t.nodes[parent]
	if p.LastChild == None {
		p.FirstChild = id
	} else {
		t.nodes[p.LastChild].NextSibling = id
	}
	p.LastChild = id
	return id
}

// Parse builds a Tree from a content document. Documents declaring a
// non-UTF-8 encoding are transcoded first and their declaration rewritten.
func Parse(src []byte) (*Tree, error) {
	src, err := toUTF8(src)
	if err != nil {
		return nil, err
	}

	d := xml.NewDecoder(bytes.NewReader(src))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	d.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if isUTF8(label) {
			return input, nil
		}
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}

	t := &Tree{}
	t.append(None, Node{Kind: DocumentNode})
	stack := []NodeID{Root}
	var offset int64

	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed(d, err)
		}
		end := d.InputOffset()
		raw := src[offset:end]
		offset = end
		parent := stack[len(stack)-1]

		switch tok := tok.(type) {
		case xml.StartElement:
			attrs := make([]xml.Attr, len(tok.Attr))
			copy(attrs, tok.Attr)
			id := t.append(parent, Node{Kind: ElementNode, Name: tok.Name, Attrs: attrs, raw: raw})
			stack = append(stack, id)
		case xml.EndElement:
			if parent == Root {
				return nil, malformed(d, fmt.Errorf("unexpected </%s>", qualified(tok.Name)))
			}
			open := &t.nodes[parent]
			if open.Name != tok.Name {
				return nil, malformed(d, fmt.Errorf("<%s> closed by </%s>", qualified(open.Name), qualified(tok.Name)))
			}
			open.endRaw = raw
			stack = stack[:len(stack)-1]
		case xml.CharData:
			t.append(parent, Node{Kind: TextNode, Text: string(tok), raw: raw})
		case xml.Comment:
			t.append(parent, Node{Kind: CommentNode, Text: string(tok), raw: raw})
		case xml.ProcInst:
			t.append(parent, Node{Kind: ProcInstNode, Name: xml.Name{Local: tok.Target}, Text: string(tok.Inst), raw: raw})
		case xml.Directive:
			t.append(parent, Node{Kind: DirectiveNode, Text: string(tok), raw: raw})
		}
	}

	if len(stack) != 1 {
		return nil, malformed(d, fmt.Errorf("unclosed <%s>", qualified(t.nodes[stack[len(stack)-1]].Name)))
	}
	roots := 0
	for c := t.nodes[Root].FirstChild; c != None; c = t.nodes[c].NextSibling {
		if t.nodes[c].Kind == ElementNode {
			roots++
		}
	}
	if roots != 1 {
		return nil, fmt.Errorf("%w: expected one root element, found %d", ErrMalformedMarkup, roots)
	}
	t.tail = src[offset:]
	return t, nil
}

// Hrefs returns every href attribute value (including prefixed ones such as
// xlink:href) in document order.
func (t *Tree) Hrefs() []string {
	var hrefs []string
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Kind != ElementNode {
			continue
		}
		for _, a := range n.Attrs {
			if a.Name.Local == "href" {
				hrefs = append(hrefs, a.Value)
			}
		}
	}
	return hrefs
}

// ElementCount returns the number of element nodes.
func (t *Tree) ElementCount() int {
	count := 0
	for i := range t.nodes {
		if t.nodes[i].Kind == ElementNode {
			count++
		}
	}
	return count
}

// TextCount returns the number of non-empty text nodes.
func (t *Tree) TextCount() int {
	count := 0
	for i := range t.nodes {
		if t.nodes[i].Kind == TextNode && t.nodes[i].Text != "" {
			count++
		}
	}
	return count
}

func (n *Node) attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func malformed(d *xml.Decoder, err error) error {
	line, col := d.InputPos()
	return fmt.Errorf("%w: line %d col %d: %v", ErrMalformedMarkup, line, col, err)
}

var xmlDeclEncoding = regexp.MustCompile(`^(?:\xef\xbb\xbf)?\s*<\?xml[^>]*?encoding\s*=\s*["']([^"']+)["']`)

// toUTF8 transcodes documents whose XML declaration names another encoding
// (Shift_JIS and EUC-JP still turn up in older Japanese books).
func toUTF8(src []byte) ([]byte, error) {
	m := xmlDeclEncoding.FindSubmatchIndex(src)
	if m == nil {
		return src, nil
	}
	label := string(src[m[2]:m[3]])
	if isUTF8(label) {
		return src, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformedMarkup, label)
	}
	decoded, err := enc.NewDecoder().Bytes(src)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrMalformedMarkup, label, err)
	}
	m = xmlDeclEncoding.FindSubmatchIndex(decoded)
	if m == nil {
		return nil, fmt.Errorf("%w: lost XML declaration while decoding %s", ErrMalformedMarkup, label)
	}
	out := make([]byte, 0, len(decoded))
	out = append(out, decoded[:m[2]]...)
	out = append(out, "UTF-8"...)
	out = append(out, decoded[m[3]:]...)
	return out, nil
}

func isUTF8(label string) bool {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return false
	}
	name, err := htmlindex.Name(enc)
	return err == nil && name == "utf-8"
}
