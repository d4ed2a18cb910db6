/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/epubtran/internal/glossary"
)

var glossaryExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export glossary entries to a JSON or CSV file",
	Long: `Export the glossary of a book (generated entries with user entries applied
on top) or, without --book, the global user entries. The format follows the
file extension: .csv writes term,translation,note rows, anything else JSON.

Example:
  epubtran glossary export names.csv --book urn:uuid:1234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		generated, err := db.GetGlossary(ctx, glossaryBook, cfg.SourceLang, cfg.TargetLang)
		if err != nil {
			return fmt.Errorf("failed to load glossary: %w", err)
		}
		user, err := db.GetUserGlossary(ctx, glossaryBook, cfg.SourceLang, cfg.TargetLang)
		if err != nil {
			return fmt.Errorf("failed to load user glossary: %w", err)
		}
		g := glossary.Merge(glossary.New(generated, log), glossary.New(user, log))

		if err := writeGlossaryFile(args[0], g.Entries()); err != nil {
			return err
		}
		fmt.Printf("Exported %d entries to %s\n", g.Len(), args[0])
		return nil
	},
}

var glossaryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import user glossary entries from a JSON or CSV file",
	Long: `Import entries as user glossary terms. JSON files may use the
{"terms":[...],"characters":[...],"groups":[...]} layout produced by
terminology extraction; CSV files need term,translation[,note] columns.

Example:
  epubtran glossary import names.json --book urn:uuid:1234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readGlossaryFile(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		for _, e := range entries {
			if err := db.AddGlossaryTerm(ctx, glossaryBook, cfg.SourceLang, cfg.TargetLang, e); err != nil {
				return fmt.Errorf("failed to import %q: %w", e.Term, err)
			}
		}
		fmt.Printf("Imported %d entries from %s\n", len(entries), args[0])
		return nil
	},
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

// readGlossaryFile reads entries from a JSON or CSV file.
func readGlossaryFile(path string) ([]glossary.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open glossary file: %w", err)
	}
	defer f.Close()

	read := glossary.ReadJSON
	if isCSV(path) {
		read = glossary.ReadCSV
	}
	entries, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return entries, nil
}

// writeGlossaryFile writes entries as JSON or CSV, creating the directory.
func writeGlossaryFile(path string, entries []glossary.Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	write := glossary.WriteJSON
	if isCSV(path) {
		write = glossary.WriteCSV
	}
	if err := write(f, entries); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func init() {
	glossaryCmd.AddCommand(glossaryExportCmd)
	glossaryCmd.AddCommand(glossaryImportCmd)
}
