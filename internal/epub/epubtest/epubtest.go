// Package epubtest builds small EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Chapter is one spine item. Body is the complete document; use XHTML to
// wrap a fragment.
type Chapter struct {
	ID   string
	Href string
	Body string
}

// Stylesheet and Cover are non-content entries every fixture carries.
var (
	Stylesheet = []byte("p { text-indent: 1em; }\n")
	Cover      = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x01, 0x02, 0x03}
)

// XHTML wraps a body fragment in an XHTML 1.1 document.
func XHTML(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops" xml:lang="ja">
<head>
<title>` + title + `</title>
<link rel="stylesheet" type="text/css" href="style.css"/>
</head>
<body>
` + body + `
</body>
</html>
`
}

// OPF renders a package document for the chapters.
func OPF(chapters []Chapter) string {
	var manifest, spine strings.Builder
	for _, ch := range chapters {
		fmt.Fprintf(&manifest, `    <item id="%s" href="%s" media-type="application/xhtml+xml"/>`+"\n", ch.ID, ch.Href)
		fmt.Fprintf(&spine, `    <itemref idref="%s"/>`+"\n", ch.ID)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="bookid">urn:uuid:00000000-0000-0000-0000-000000000001</dc:identifier>
    <dc:title>テスト本</dc:title>
    <dc:language>ja</dc:language>
  </metadata>
  <manifest>
    <item id="css" href="style.css" media-type="text/css"/>
    <item id="cover" href="images/cover.png" media-type="image/png"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
` + manifest.String() + `  </manifest>
  <spine toc="ncx">
` + spine.String() + `  </spine>
</package>
`
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

const tocNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1"><navMap/></ncx>
`

// Entry is a raw archive entry.
type Entry struct {
	Name string
	Data []byte
}

// Entries returns the archive entries for chapters, in archive order.
func Entries(chapters []Chapter) []Entry {
	entries := []Entry{
		{Name: "mimetype", Data: []byte("application/epub+zip")},
		{Name: "META-INF/container.xml", Data: []byte(containerXML)},
		{Name: "OEBPS/content.opf", Data: []byte(OPF(chapters))},
		{Name: "OEBPS/toc.ncx", Data: []byte(tocNCX)},
		{Name: "OEBPS/style.css", Data: Stylesheet},
		{Name: "OEBPS/images/cover.png", Data: Cover},
	}
	for _, ch := range chapters {
		entries = append(entries, Entry{Name: "OEBPS/" + ch.Href, Data: []byte(ch.Body)})
	}
	return entries
}

// Write creates dir/book.epub from chapters and returns its path.
func Write(t testing.TB, dir string, chapters []Chapter) string {
	t.Helper()
	return WriteEntries(t, filepath.Join(dir, "book.epub"), Entries(chapters))
}

// WriteEntries writes raw entries as a zip archive at p.
func WriteEntries(t testing.TB, p string, entries []Entry) string {
	t.Helper()

	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		method := zip.Deflate
		if e.Name == "mimetype" {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			t.Fatalf("failed to write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close fixture: %v", err)
	}
	return p
}

// ReadAll returns every entry of the archive at p keyed by name, plus the
// entry order.
func ReadAll(t testing.TB, p string) (map[string][]byte, []string) {
	t.Helper()

	zr, err := zip.OpenReader(p)
	if err != nil {
		t.Fatalf("failed to open %s: %v", p, err)
	}
	defer zr.Close()

	data := make(map[string][]byte, len(zr.File))
	var order []string
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read %s: %v", f.Name, err)
		}
		data[f.Name] = b
		order = append(order, f.Name)
	}
	return data, order
}
