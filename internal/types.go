package internal

import "time"

// RunRecord is the persisted summary of one book translation run.
type RunRecord struct {
	ID               string          `json:"id"`
	BookID           string          `json:"book_id"`
	Title            string          `json:"title"`
	SourcePath       string          `json:"source_path"`
	OutputPath       string          `json:"output_path"`
	Provider         string          `json:"provider"`
	SourceLang       string          `json:"source_lang"`
	TargetLang       string          `json:"target_lang"`
	Status           string          `json:"status"`
	GlossaryEntries  int             `json:"glossary_entries"`
	GlossaryDegraded bool            `json:"glossary_degraded"`
	Translated       int             `json:"translated"`
	Partial          int             `json:"partial"`
	Passthrough      int             `json:"passthrough"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Chapters         []ChapterRecord `json:"chapters,omitempty"`
}

// ChapterRecord is the outcome of one spine chapter within a run.
type ChapterRecord struct {
	Index          int    `json:"index"`
	Href           string `json:"href"`
	Title          string `json:"title"`
	Outcome        string `json:"outcome"`
	Runs           int    `json:"runs"`
	TranslatedRuns int    `json:"translated_runs"`
	Error          string `json:"error,omitempty"`
}

// AttemptRecord is one provider request made while translating a chapter.
// Error is empty when the request succeeded.
type AttemptRecord struct {
	RunID     string    `json:"run_id"`
	Chapter   int       `json:"chapter"`
	Href      string    `json:"href"`
	Batch     int       `json:"batch"`
	Attempt   int       `json:"attempt"`
	Provider  string    `json:"provider"`
	Segments  int       `json:"segments"`
	Chars     int       `json:"chars"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
