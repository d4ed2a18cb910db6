package epub

import "encoding/xml"

// container mirrors META-INF/container.xml.
type container struct {
	XMLName   xml.Name   `xml:"container"`
	Rootfiles []rootfile `xml:"rootfiles>rootfile"`
}

type rootfile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// Package is the parsed OPF package document. Only the parts the pipeline
// reads are mapped; the OPF itself is always copied through unchanged.
type Package struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	UniqueID string   `xml:"unique-identifier,attr"`
	Metadata Metadata `xml:"metadata"`
	Manifest Manifest `xml:"manifest"`
	Spine    Spine    `xml:"spine"`
}

type Metadata struct {
	Titles      []string     `xml:"title"`
	Languages   []string     `xml:"language"`
	Identifiers []Identifier `xml:"identifier"`
}

type Identifier struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

type Manifest struct {
	Items []Item `xml:"item"`
}

type Item struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type Spine struct {
	TOC      string    `xml:"toc,attr"`
	ItemRefs []ItemRef `xml:"itemref"`
}

type ItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

func (m Manifest) byID() map[string]Item {
	items := make(map[string]Item, len(m.Items))
	for _, it := range m.Items {
		items[it.ID] = it
	}
	return items
}
