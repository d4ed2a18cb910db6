package orchestrator

import (
	"time"

	"github.com/valpere/epubtran/internal"
)

// Outcome is the final result of one chapter.
type Outcome string

const (
	// Translated means every run of the chapter was translated.
	Translated Outcome = "translated"
	// Partial means some runs kept their source text. Only produced when
	// partial chapters are allowed.
	Partial Outcome = "partial"
	// Passthrough means the chapter was written unmodified.
	Passthrough Outcome = "passthrough"
)

// ChapterReport describes what happened to one spine chapter.
type ChapterReport struct {
	Index          int
	Href           string
	Title          string
	Outcome        Outcome
	State          State
	Runs           int
	TranslatedRuns int
	CachedRuns     int
	Batches        int
	Retries        int
	Err            error
}

// Report is the manifest of a run: which chapters were fully translated,
// partially translated or passed through.
type Report struct {
	RunID            string
	Chapters         []ChapterReport
	GlossaryEntries  int
	GlossaryDegraded bool
	Started          time.Time
	Finished         time.Time
}

// Counts returns the number of chapters per outcome.
func (r *Report) Counts() (translated, partial, passthrough int) {
	for _, ch := range r.Chapters {
		switch ch.Outcome {
		case Translated:
			translated++
		case Partial:
			partial++
		default:
			passthrough++
		}
	}
	return translated, partial, passthrough
}

// Incomplete returns the number of chapters that were not fully translated.
func (r *Report) Incomplete() int {
	_, partial, passthrough := r.Counts()
	return partial + passthrough
}

// Retries returns the total number of retried requests.
func (r *Report) Retries() int {
	n := 0
	for _, ch := range r.Chapters {
		n += ch.Retries
	}
	return n
}

// Record converts the report to its persisted form. Book, path and
// provider fields are left for the caller.
func (r *Report) Record() internal.RunRecord {
	translated, partial, passthrough := r.Counts()
	rec := internal.RunRecord{
		ID:               r.RunID,
		Status:           "completed",
		GlossaryEntries:  r.GlossaryEntries,
		GlossaryDegraded: r.GlossaryDegraded,
		Translated:       translated,
		Partial:          partial,
		Passthrough:      passthrough,
		StartedAt:        r.Started,
		FinishedAt:       r.Finished,
	}
	if partial+passthrough > 0 {
		rec.Status = "incomplete"
	}
	for _, ch := range r.Chapters {
		cr := internal.ChapterRecord{
			Index:          ch.Index,
			Href:           ch.Href,
			Title:          ch.Title,
			Outcome:        string(ch.Outcome),
			Runs:           ch.Runs,
			TranslatedRuns: ch.TranslatedRuns,
		}
		if ch.Err != nil {
			cr.Error = ch.Err.Error()
		}
		rec.Chapters = append(rec.Chapters, cr)
	}
	return rec
}
