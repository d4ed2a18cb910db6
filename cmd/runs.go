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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/epubtran/internal/store"
)

var (
	runsLimit    int
	runsJSON     bool
	runsRequests bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the history of translation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent translation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background(), runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tBOOK\tPROVIDER\tLANGS\tSTATUS\tOK\tPARTIAL\tPASSTHROUGH")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s→%s\t%s\t%d\t%d\t%d\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04"), truncate(r.Title, 30), r.Provider,
				r.SourceLang, r.TargetLang, r.Status, r.Translated, r.Partial, r.Passthrough)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the chapter report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := db.GetRun(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}

		if runsRequests {
			return printAttempts(db, r.ID)
		}
		if runsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}

		fmt.Printf("Run:       %s\n", r.ID)
		fmt.Printf("Book:      %s (%s)\n", r.Title, r.BookID)
		fmt.Printf("Source:    %s\n", r.SourcePath)
		fmt.Printf("Output:    %s\n", r.OutputPath)
		fmt.Printf("Provider:  %s, %s→%s\n", r.Provider, r.SourceLang, r.TargetLang)
		fmt.Printf("Glossary:  %d entries", r.GlossaryEntries)
		if r.GlossaryDegraded {
			fmt.Print(" (extraction failed)")
		}
		fmt.Println()
		fmt.Printf("Duration:  %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
		fmt.Printf("Status:    %s\n\n", r.Status)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tCHAPTER\tTITLE\tOUTCOME\tRUNS\tTRANSLATED\tERROR")
		for _, ch := range r.Chapters {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
				ch.Index+1, ch.Href, truncate(ch.Title, 30), ch.Outcome, ch.Runs, ch.TranslatedRuns, truncate(ch.Error, 60))
		}
		return w.Flush()
	},
}

func printAttempts(db *store.Store, runID string) error {
	attempts, err := db.ListAttempts(context.Background(), runID)
	if err != nil {
		return fmt.Errorf("failed to load requests: %w", err)
	}
	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(attempts)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAPTER\tBATCH\tATTEMPT\tSEGMENTS\tCHARS\tLATENCY\tERROR")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			a.Href, a.Batch, a.Attempt, a.Segments, a.Chars,
			(time.Duration(a.LatencyMs) * time.Millisecond).String(), truncate(a.Error, 60))
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Print the run as JSON")
	runsShowCmd.Flags().BoolVar(&runsRequests, "requests", false, "List every provider request of the run")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
