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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/epubtran/internal/document"
	"github.com/valpere/epubtran/internal/epub"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <book.epub>",
	Short: "Show the chapters and translatable text of a book",
	Long: `Open a book without translating it and list its spine chapters with the
number of text runs and characters that would be sent to a provider.
Chapters that cannot be parsed are marked; they would be passed through.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book, err := epub.Open(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Title:       %s\n", book.Title())
		fmt.Printf("Identifier:  %s\n", book.Identifier())
		fmt.Printf("Language:    %s\n", book.Language())
		fmt.Printf("Package:     %s\n", book.RootFile)
		fmt.Printf("Chapters:    %d\n\n", len(book.Chapters))

		opts := cfg.Walker
		opts.StripRuby = cfg.Pipeline.StripRuby

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tCHAPTER\tTITLE\tRUNS\tCHARS\tLINKS\tSTATUS")
		var totalRuns, totalChars int
		for _, ch := range book.Chapters {
			tree, err := document.Parse(ch.Content)
			if err != nil {
				fmt.Fprintf(w, "%d\t%s\t%s\t-\t-\t-\t%s\n", ch.Index+1, ch.Href, truncate(ch.Title(), 30), truncate(err.Error(), 50))
				continue
			}
			runs := document.ExtractRuns(tree, opts)
			chars := 0
			for _, r := range runs {
				chars += len([]rune(r.Text))
			}
			totalRuns += len(runs)
			totalChars += chars
			status := "ok"
			if !ch.Linear {
				status = "ok (non-linear)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
				ch.Index+1, ch.Href, truncate(ch.Title(), 30), len(runs), chars, len(tree.Hrefs()), status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d runs, %d characters\n", totalRuns, totalChars)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
