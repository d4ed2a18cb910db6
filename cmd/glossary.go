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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/glossary"
	"github.com/valpere/epubtran/internal/translator"
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage terminology glossaries",
	Long: `Build, list, add, delete, import and export glossary entries.

Glossary entries keep character names, honorifics and recurring terms
consistent across all chapters of a book. Generated entries are stored per
book; user entries are global or bound to one book with --book and always
override generated ones.`,
}

var (
	glossaryBook   string
	glossaryNote   string
	glossaryOutput string
	glossaryNoSave bool
)

var glossaryBuildCmd = &cobra.Command{
	Use:   "build <book.epub>",
	Short: "Build the glossary of a book without translating it",
	Long: `Extract terminology from the whole book with the configured provider and
store it as the book's generated glossary. The stored glossary is reused by
"epubtran translate" unless --rebuild-glossary is given.

Example:
  epubtran glossary build novel.epub -o names.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		book, err := epub.Open(args[0])
		if err != nil {
			return err
		}
		sourceLang := sourceLanguage(book, cfg.SourceLang)

		provider, release, err := buildProvider(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()

		builder := &glossary.Builder{
			Extractor: translator.Extractor(provider, sourceLang, cfg.TargetLang),
			MaxChars:  provider.Capabilities().MaxContextChars,
			Strict:    true,
			Workers:   cfg.Pipeline.Workers,
			Logger:    log,
		}
		g, err := builder.Build(ctx, bookSections(book, cfg.Walker))
		if err != nil {
			return err
		}
		if g.Len() == 0 {
			fmt.Printf("No terms extracted by %s; the stored glossary is unchanged\n", provider.Name())
			return nil
		}

		if !glossaryNoSave {
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.ReplaceBookGlossary(ctx, book.Identifier(), sourceLang, cfg.TargetLang, g.Entries()); err != nil {
				return fmt.Errorf("failed to store glossary: %w", err)
			}
		}

		if glossaryOutput != "" {
			if err := writeGlossaryFile(glossaryOutput, g.Entries()); err != nil {
				return err
			}
			fmt.Printf("Wrote %d entries to %s\n", g.Len(), glossaryOutput)
			return nil
		}
		printEntries(g.Entries())
		fmt.Printf("\n%d entries for %q (%s)\n", g.Len(), book.Title(), book.Identifier())
		return nil
	},
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored glossary entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		sl, tl := "", ""
		if cmd.Flags().Changed("source") {
			sl = cfg.SourceLang
		}
		if cmd.Flags().Changed("target") {
			tl = cfg.TargetLang
		}
		entries, err := db.ListGlossaryTerms(context.Background(), sl, tl)
		if err != nil {
			return fmt.Errorf("failed to list glossary: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("Glossary is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBOOK\tORIGIN\tLANGS\tSOURCE TERM\tTARGET TERM\tNOTE")
		for _, e := range entries {
			book := e.BookID
			if book == "" {
				book = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s→%s\t%s\t%s\t%s\n",
				e.ID, truncate(book, 24), e.Origin, e.SourceLang, e.TargetLang, e.SourceTerm, e.TargetTerm, e.Note)
		}
		return w.Flush()
	},
}

var glossaryAddCmd = &cobra.Command{
	Use:   "add <source-term> <target-term>",
	Short: "Add or update a user glossary entry",
	Long: `Add a glossary entry mapping a source-language term to a target-language term.
Without --book the entry applies to every book.

Example:
  epubtran glossary add "太郎" "타로" --note character`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		existing, err := db.GetUserGlossary(ctx, glossaryBook, cfg.SourceLang, cfg.TargetLang)
		if err != nil {
			return fmt.Errorf("failed to load user glossary: %w", err)
		}
		e := glossary.Entry{Term: args[0], Translation: args[1], Note: glossaryNote}
		if old, ok := glossary.New(existing, nil).Lookup(e.Term); ok && old.Translation != e.Translation {
			fmt.Printf("Replacing: %q → %q\n", old.Term, old.Translation)
		}
		if err := db.AddGlossaryTerm(ctx, glossaryBook, cfg.SourceLang, cfg.TargetLang, e); err != nil {
			return fmt.Errorf("failed to add glossary entry: %w", err)
		}
		fmt.Printf("Added: [%s→%s] %q → %q\n", cfg.SourceLang, cfg.TargetLang, args[0], args[1])
		return nil
	},
}

var glossaryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a glossary entry by ID",
	Long:  `Delete a glossary entry by its ID (shown in "epubtran glossary list").`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteGlossaryTerm(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete glossary entry: %w", err)
		}
		fmt.Printf("Deleted glossary entry: %s\n", args[0])
		return nil
	},
}

func printEntries(entries []glossary.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE TERM\tTARGET TERM\tNOTE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Term, e.Translation, e.Note)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	pf := glossaryCmd.PersistentFlags()
	pf.StringP("source", "s", "ja", "Source language code")
	pf.StringP("target", "t", "ko", "Target language code")
	pf.StringP("provider", "p", "openrouter", "Provider used by build")
	pf.StringVar(&glossaryBook, "book", "", "Book identifier the entries belong to (empty: all books)")

	glossaryBuildCmd.Flags().StringVarP(&glossaryOutput, "output", "o", "", "Write the glossary to a JSON or CSV file")
	glossaryBuildCmd.Flags().BoolVar(&glossaryNoSave, "no-save", false, "Do not store the glossary in the database")
	glossaryAddCmd.Flags().StringVar(&glossaryNote, "note", "", "Usage note (e.g. character, place)")

	glossaryCmd.AddCommand(glossaryBuildCmd)
	glossaryCmd.AddCommand(glossaryListCmd)
	glossaryCmd.AddCommand(glossaryAddCmd)
	glossaryCmd.AddCommand(glossaryDeleteCmd)
}
