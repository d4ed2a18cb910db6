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
	"os/signal"
	"sync"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/glossary"
	"github.com/valpere/epubtran/internal/orchestrator"
	"github.com/valpere/epubtran/internal/progress"
	"github.com/valpere/epubtran/internal/validator"
)

var (
	outputFile   string
	glossaryFile string
	checkFirst   bool
)

var translateCmd = &cobra.Command{
	Use:   "translate <book.epub>",
	Short: "Translate an EPUB book",
	Long: `Translate every content document of an EPUB book and write a new archive.

The run has three phases: every chapter is parsed, a glossary is built from
the whole book (or loaded from the database), then chapters are translated
concurrently. A chapter that cannot be parsed, translated or reassembled is
copied unchanged; the run still succeeds and reports it.

Examples:
  epubtran translate novel.epub
  epubtran translate novel.epub -o out.epub --provider ollama --workers 2
  epubtran translate novel.epub --glossary names.csv --rebuild-glossary`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		input := args[0]
		book, err := epub.Open(input)
		if err != nil {
			return err
		}

		sourceLang := sourceLanguage(book, cfg.SourceLang)
		oc := cfg.Orchestrator()
		oc.SourceLang = sourceLang

		out := outputFile
		if out == "" {
			out = epub.OutputPath(input, cfg.TargetLang)
		}

		provider, release, err := buildProvider(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()
		if checkFirst {
			if err := checkProvider(ctx, provider); err != nil {
				return err
			}
		}

		orch := orchestrator.New(provider, oc)
		orch.Logger = log
		orch.Sink = progress.Multi(progress.LogSink{Logger: log}, chapterProgress(len(book.Chapters)))

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		orch.Glossaries = db
		orch.Requests = db
		if !cfg.Store.NoCache {
			orch.Memory = db
		}

		if oc.ValidateOutput {
			orch.Validator = validator.New(sourceLang, cfg.TargetLang)
		}
		if glossaryFile != "" {
			entries, err := readGlossaryFile(glossaryFile)
			if err != nil {
				return err
			}
			orch.Glossary = glossary.New(entries, log)
		}

		log.WithFields(logrus.Fields{
			"book":     book.Title(),
			"chapters": len(book.Chapters),
			"source":   sourceLang,
			"target":   cfg.TargetLang,
			"provider": provider.Name(),
		}).Info("Starting translation")

		report, err := orch.Run(ctx, book)
		if err != nil {
			return fmt.Errorf("translation aborted: %w", err)
		}

		if err := epub.Write(book, out); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}

		rec := report.Record()
		rec.BookID = book.Identifier()
		rec.Title = book.Title()
		rec.SourcePath = input
		rec.OutputPath = out
		rec.Provider = provider.Name()
		rec.SourceLang = sourceLang
		rec.TargetLang = cfg.TargetLang
		if err := db.SaveRun(ctx, rec); err != nil {
			log.WithError(err).Warn("Failed to save run history")
		}

		printReport(report)
		translated, partial, passthrough := report.Counts()
		fmt.Printf("\nWrote %s\n", out)
		fmt.Printf("Chapters: %d translated, %d partial, %d passed through (%d retries)\n",
			translated, partial, passthrough, report.Retries())
		if report.GlossaryDegraded {
			fmt.Println("Warning: glossary extraction failed; translated without a generated glossary")
		}
		fmt.Printf("Run ID: %s\n", report.RunID)
		return nil
	},
}

// chapterProgress prints a line to stderr as each chapter finishes.
func chapterProgress(total int) progress.Sink {
	var (
		mu   sync.Mutex
		done int
	)
	return progress.SinkFunc(func(e progress.Event) {
		if e.Kind != progress.ChapterState || !orchestrator.State(e.State).Terminal() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", done, total, e.Href, e.State)
	})
}

func printReport(r *orchestrator.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCHAPTER\tTITLE\tOUTCOME\tRUNS\tTRANSLATED\tRETRIES\tERROR")
	for _, ch := range r.Chapters {
		errText := ""
		if ch.Err != nil {
			errText = ch.Err.Error()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			ch.Index+1, ch.Href, truncate(ch.Title, 30), ch.Outcome,
			ch.Runs, ch.TranslatedRuns, ch.Retries, truncate(errText, 60))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(translateCmd)

	f := translateCmd.Flags()
	f.StringVarP(&outputFile, "output", "o", "", "Output EPUB (default <input>_<target>.epub)")
	f.StringP("source", "s", "ja", `Source language code ("auto" uses the book metadata)`)
	f.StringP("target", "t", "ko", "Target language code")
	f.StringP("provider", "p", "openrouter", "Translation provider")
	f.StringVar(&glossaryFile, "glossary", "", "Glossary file (JSON or CSV) whose entries override generated ones")
	f.BoolVar(&checkFirst, "check", false, "Verify provider credentials before starting")

	f.Int("workers", 4, "Chapters translated concurrently")
	f.Duration("chapter-timeout", 0, "Time limit per chapter (default 30m)")
	f.Int("max-retries", 3, "Retries of a batch after a transient provider error")
	f.Int("batch-size", 40, "Maximum segments per request")
	f.Bool("allow-partial", false, "Keep chapters whose translation failed part-way")
	f.Bool("strict-glossary", false, "Abort when glossary extraction fails")
	f.Bool("rebuild-glossary", false, "Ignore the stored glossary of the book")
	f.Bool("strip-ruby", true, "Remove furigana from translated chapters")
	f.Bool("validate", false, "Check that translations are in the target language")
	f.Bool("no-cache", false, "Disable translation memory")
}
