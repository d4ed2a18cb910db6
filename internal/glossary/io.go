package glossary

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// File is the JSON document shape used for glossary import and export and
// for terminology replies from language models. Characters and Groups are
// accepted on input for dictionaries that split names by category.
type File struct {
	Terms      []Entry `json:"terms"`
	Characters []Entry `json:"characters,omitempty"`
	Groups     []Entry `json:"groups,omitempty"`
}

// All returns the entries of every section. Character and group entries
// without a note are annotated with their category.
func (f File) All() []Entry {
	all := make([]Entry, 0, len(f.Terms)+len(f.Characters)+len(f.Groups))
	all = append(all, f.Terms...)
	for _, e := range f.Characters {
		if e.Note == "" {
			e.Note = "character"
		}
		all = append(all, e)
	}
	for _, e := range f.Groups {
		if e.Note == "" {
			e.Note = "group"
		}
		all = append(all, e)
	}
	return all
}

// ReadJSON decodes a glossary file.
func ReadJSON(r io.Reader) ([]Entry, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode glossary: %w", err)
	}
	return f.All(), nil
}

// WriteJSON encodes entries as an indented glossary file.
func WriteJSON(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(File{Terms: entries})
}

var csvHeader = []string{"term", "translation", "note"}

// ReadCSV reads term,translation[,note] rows. A header row is skipped.
func ReadCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []Entry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read glossary CSV: %w", err)
		}
		if line == 1 && len(rec) >= 2 && strings.EqualFold(rec[0], csvHeader[0]) && strings.EqualFold(rec[1], csvHeader[1]) {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("glossary CSV line %d: expected at least 2 columns, got %d", line, len(rec))
		}
		e := Entry{Term: rec[0], Translation: rec[1]}
		if len(rec) > 2 {
			e.Note = rec[2]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteCSV writes entries with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Term, e.Translation, e.Note}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
