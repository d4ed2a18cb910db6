// Package epub reads an EPUB container into spine-ordered chapters and
// writes it back with only the translated content documents replaced.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidContainer is returned when the archive is unreadable or lacks
// the structure every EPUB must have (container.xml, OPF, spine).
var ErrInvalidContainer = errors.New("invalid EPUB container")

const (
	MimetypeName  = "mimetype"
	Mimetype      = "application/epub+zip"
	containerPath = "META-INF/container.xml"
)

var contentTypes = map[string]bool{
	"application/xhtml+xml": true,
	"text/html":             true,
}

// Chapter is one spine item whose media type is an (X)HTML content document.
type Chapter struct {
	Index     int
	ID        string
	Href      string
	MediaType string
	Linear    bool
	Content   []byte
}

// Book is an opened EPUB. The manifest and spine are read-only; chapter
// content may be replaced through SetContent before Write.
type Book struct {
	Path     string
	RootFile string
	Package  Package
	Chapters []*Chapter

	files  []*zip.File
	byName map[string]*zip.File

	mu       sync.Mutex
	replaced map[string][]byte
}

// Open reads the archive at path fully into memory and resolves its spine.
func Open(filePath string) (*Book, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	book, err := Parse(data)
	if err != nil {
		return nil, err
	}
	book.Path = filePath
	return book, nil
}

// Parse builds a Book from archive bytes.
func Parse(data []byte) (*Book, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, invalid("not a zip archive: %v", err)
	}

	book := &Book{
		files:    zr.File,
		byName:   make(map[string]*zip.File, len(zr.File)),
		replaced: make(map[string][]byte),
	}
	for _, f := range zr.File {
		book.byName[f.Name] = f
	}

	if mf, ok := book.byName[MimetypeName]; ok {
		raw, err := readEntry(mf)
		if err != nil {
			return nil, invalid("mimetype: %v", err)
		}
		if got := strings.TrimSpace(string(raw)); got != Mimetype {
			return nil, invalid("unexpected mimetype %q", got)
		}
	}

	cf, ok := book.byName[containerPath]
	if !ok {
		return nil, invalid("missing %s", containerPath)
	}
	raw, err := readEntry(cf)
	if err != nil {
		return nil, invalid("%s: %v", containerPath, err)
	}
	var c container
	if err := xml.Unmarshal(raw, &c); err != nil {
		return nil, invalid("%s: %v", containerPath, err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return nil, invalid("no rootfile in %s", containerPath)
	}
	book.RootFile = path.Clean(c.Rootfiles[0].FullPath)

	of, ok := book.byName[book.RootFile]
	if !ok {
		return nil, invalid("missing package document %s", book.RootFile)
	}
	raw, err = readEntry(of)
	if err != nil {
		return nil, invalid("%s: %v", book.RootFile, err)
	}
	if err := xml.Unmarshal(raw, &book.Package); err != nil {
		return nil, invalid("%s: %v", book.RootFile, err)
	}

	if err := book.loadSpine(); err != nil {
		return nil, err
	}
	return book, nil
}

func (b *Book) loadSpine() error {
	refs := b.Package.Spine.ItemRefs
	if len(refs) == 0 {
		return invalid("empty spine")
	}
	items := b.Package.Manifest.byID()

	for _, ref := range refs {
		item, ok := items[ref.IDRef]
		if !ok {
			return invalid("spine references unknown manifest item %q", ref.IDRef)
		}
		name, err := resolveHref(b.RootFile, item.Href)
		if err != nil {
			return invalid("item %q: %v", item.ID, err)
		}
		f, ok := b.byName[name]
		if !ok {
			return invalid("spine item %q points to missing entry %s", item.ID, name)
		}
		if !contentTypes[item.MediaType] {
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return invalid("%s: %v", name, err)
		}
		b.Chapters = append(b.Chapters, &Chapter{
			Index:     len(b.Chapters),
			ID:        item.ID,
			Href:      name,
			MediaType: item.MediaType,
			Linear:    ref.Linear != "no",
			Content:   content,
		})
	}

	if len(b.Chapters) == 0 {
		return invalid("spine has no content documents")
	}
	return nil
}

// Title returns the first dc:title.
func (b *Book) Title() string {
	for _, t := range b.Package.Metadata.Titles {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// Language returns the first dc:language, lower-cased.
func (b *Book) Language() string {
	for _, l := range b.Package.Metadata.Languages {
		if l = strings.TrimSpace(l); l != "" {
			return strings.ToLower(l)
		}
	}
	return ""
}

// Identifier returns the package unique identifier, falling back to the
// first dc:identifier and finally to the archive file name.
func (b *Book) Identifier() string {
	ids := b.Package.Metadata.Identifiers
	for _, id := range ids {
		if id.ID != "" && id.ID == b.Package.UniqueID {
			return strings.TrimSpace(id.Value)
		}
	}
	if len(ids) > 0 && strings.TrimSpace(ids[0].Value) != "" {
		return strings.TrimSpace(ids[0].Value)
	}
	return filepath.Base(b.Path)
}

// Entries lists archive entry names in their original order.
func (b *Book) Entries() []string {
	names := make([]string, len(b.files))
	for i, f := range b.files {
		names[i] = f.Name
	}
	return names
}

// ReadEntry returns the uncompressed bytes of an archive entry as stored in
// the source archive, ignoring any replacement.
func (b *Book) ReadEntry(name string) ([]byte, error) {
	f, ok := b.byName[name]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", name, os.ErrNotExist)
	}
	return readEntry(f)
}

// SetContent replaces the payload of a chapter. Only content documents
// listed in the spine may be replaced. Safe for concurrent use.
func (b *Book) SetContent(name string, data []byte) error {
	if b.chapter(name) == nil {
		return fmt.Errorf("%s is not a content document of this book", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaced[name] = data
	return nil
}

// Replaced returns the names of chapters with replaced content, sorted.
func (b *Book) Replaced() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.replaced))
	for name := range b.replaced {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Book) replacement(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.replaced[name]
	return data, ok
}

func (b *Book) chapter(name string) *Chapter {
	for _, ch := range b.Chapters {
		if ch.Href == name {
			return ch
		}
	}
	return nil
}

// resolveHref turns a manifest href (relative to the OPF, possibly
// percent-encoded, possibly with a fragment) into an archive entry name.
func resolveHref(opfPath, href string) (string, error) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	unescaped, err := url.PathUnescape(href)
	if err != nil {
		return "", err
	}
	if unescaped == "" {
		return "", fmt.Errorf("empty href")
	}
	return path.Clean(path.Join(path.Dir(opfPath), unescaped)), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidContainer, fmt.Sprintf(format, args...))
}
