package epub

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Title returns a display title for the chapter: the document <title>, or
// the first heading when the title is empty. Furigana is dropped.
func (c *Chapter) Title() string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(c.Content))
	if err != nil {
		return ""
	}
	doc.Find("rt, rp").Remove()

	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return collapse(doc.Find("h1, h2, h3").First().Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
