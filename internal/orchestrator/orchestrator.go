// Package orchestrator drives a book translation run: it parses every
// chapter, builds the book glossary, then translates chapters on a bounded
// worker pool and reassembles them into the book.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/epubtran/internal"
	"github.com/valpere/epubtran/internal/document"
	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/glossary"
	"github.com/valpere/epubtran/internal/progress"
	"github.com/valpere/epubtran/internal/translator"
)

// Config controls a run. Zero values are replaced by the defaults in New.
type Config struct {
	SourceLang string
	TargetLang string

	// Workers bounds the number of chapters translated concurrently.
	Workers int
	// ChapterTimeout cancels a chapter's outstanding requests and fails it.
	ChapterTimeout time.Duration
	// MaxRetries is the number of retries of a batch after a transient
	// error. Negative disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// BatchSize and BatchChars size batches; the provider's capabilities
	// lower them further.
	BatchSize  int
	BatchChars int
	// ContextChars is the length of the preceding translation sent with
	// each batch. Negative disables it.
	ContextChars int

	AllowPartial    bool
	StrictGlossary  bool
	RebuildGlossary bool
	StripRuby       bool
	ValidateOutput  bool

	Walk document.Options
}

const (
	defaultWorkers        = 4
	defaultChapterTimeout = 30 * time.Minute
	defaultMaxRetries     = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultBatchSize      = 40
	defaultBatchChars     = 10000
)

// Memory is the translation memory consulted before a segment is sent.
// Entries are keyed by the fingerprint of the glossary entries relevant to
// the segment, so a changed glossary never serves an old rendering.
type Memory interface {
	GetCachedTranslation(ctx context.Context, sourceText, sourceLang, targetLang, glossaryKey string) (string, bool, error)
	SaveToMemory(ctx context.Context, sourceText, sourceLang, targetLang, glossaryKey, finalText, serviceUsed string) error
}

// GlossaryStore persists the generated glossary of a book and holds
// user-defined entries.
type GlossaryStore interface {
	GetGlossary(ctx context.Context, bookID, sourceLang, targetLang string) ([]glossary.Entry, error)
	GetUserGlossary(ctx context.Context, bookID, sourceLang, targetLang string) ([]glossary.Entry, error)
	ReplaceBookGlossary(ctx context.Context, bookID, sourceLang, targetLang string, entries []glossary.Entry) error
}

// RequestLog records every provider request, failed attempts included.
type RequestLog interface {
	SaveAttempt(ctx context.Context, a internal.AttemptRecord) error
}

// Validator checks that translated segments are in the target language.
type Validator interface {
	CheckBatch(translated []string, targetLang string) error
}

// Orchestrator runs books through a single provider. The optional
// collaborators may be set after New and before Run.
type Orchestrator struct {
	provider translator.Provider
	config   Config

	Sink       progress.Sink
	Logger     logrus.FieldLogger
	Memory     Memory
	Glossaries GlossaryStore
	Requests   RequestLog
	Validator  Validator
	// Glossary holds entries supplied by the caller; they override both
	// generated and stored user entries.
	Glossary *glossary.Glossary
}

// New returns an Orchestrator with defaults applied to config.
func New(provider translator.Provider, config Config) *Orchestrator {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.ChapterTimeout <= 0 {
		config.ChapterTimeout = defaultChapterTimeout
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = defaultMaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = max(defaultMaxDelay, config.BaseDelay)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.BatchChars <= 0 {
		config.BatchChars = defaultBatchChars
	}
	if config.ContextChars == 0 {
		config.ContextChars = 200
	}
	return &Orchestrator{provider: provider, config: config}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// chapterJob is a parsed chapter waiting for translation.
type chapterJob struct {
	chapter *epub.Chapter
	tree    *document.Tree
	runs    []document.TextRun
}

// Run translates book in place: translated chapters are stored with
// Book.SetContent and the caller writes the archive. Chapter failures are
// reported in the Report and never returned; Run only fails when ctx is
// cancelled or a strict glossary build fails.
func (o *Orchestrator) Run(ctx context.Context, book *epub.Book) (*Report, error) {
	report := &Report{
		RunID:    uuid.NewString(),
		Chapters: make([]ChapterReport, len(book.Chapters)),
		Started:  time.Now(),
	}
	logger := o.logger().WithField("run_id", report.RunID)
	sink := o.sink()

	walk := o.config.Walk
	walk.StripRuby = o.config.StripRuby

	// Phase 1: parse every chapter. Malformed chapters pass through.
	jobs := make([]*chapterJob, len(book.Chapters))
	var sections []string
	for i, ch := range book.Chapters {
		report.Chapters[i] = ChapterReport{
			Index:   ch.Index,
			Href:    ch.Href,
			Title:   ch.Title(),
			Outcome: Passthrough,
			State:   Pending,
		}
		tree, err := document.Parse(ch.Content)
		if err != nil {
			report.Chapters[i].State = Failed
			report.Chapters[i].Err = err
			logger.WithFields(logrus.Fields{"chapter": ch.Index, "href": ch.Href}).
				WithError(err).Warn("Chapter cannot be parsed, passing it through")
			continue
		}
		job := &chapterJob{chapter: ch, tree: tree, runs: document.ExtractRuns(tree, walk)}
		jobs[i] = job
		report.Chapters[i].Runs = len(job.runs)
		// The glossary pass never sees furigana.
		sections = append(sections, document.PlainText(tree, document.Options{
			SkipElements: walk.SkipElements,
			MergeInline:  walk.MergeInline,
			StripRuby:    true,
		}))
	}

	// Phase 2: the glossary is complete and frozen before any chapter starts.
	gloss, degraded, err := o.glossary(ctx, book, sections, report.RunID, logger)
	if err != nil {
		return nil, err
	}
	report.GlossaryEntries = gloss.Len()
	report.GlossaryDegraded = degraded

	// Phase 3: chapters on a bounded worker pool.
	var g errgroup.Group
	g.SetLimit(o.config.Workers)
	for i, job := range jobs {
		if job == nil {
			continue
		}
		g.Go(func() error {
			o.translateChapter(ctx, book, job, gloss, &report.Chapters[i], report.RunID)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	translated, partial, passthrough := report.Counts()
	sink.Emit(progress.Event{
		RunID: report.RunID,
		Kind:  progress.RunDone,
		Runs:  translated,
		Time:  report.Finished,
	})
	logger.WithFields(logrus.Fields{
		"translated":  translated,
		"partial":     partial,
		"passthrough": passthrough,
		"duration":    report.Finished.Sub(report.Started).Round(time.Millisecond),
	}).Info("Translation run finished")
	return report, nil
}

// glossary loads the stored glossary of the book or builds a new one, then
// applies stored user entries and the caller's entries on top.
func (o *Orchestrator) glossary(ctx context.Context, book *epub.Book, sections []string, runID string, logger logrus.FieldLogger) (*glossary.Glossary, bool, error) {
	sink := o.sink()
	sl, tl := o.config.SourceLang, o.config.TargetLang
	bookID := book.Identifier()

	sink.Emit(progress.Event{RunID: runID, Kind: progress.GlossaryStarted, Time: time.Now()})

	var generated *glossary.Glossary
	if o.Glossaries != nil && !o.config.RebuildGlossary {
		entries, err := o.Glossaries.GetGlossary(ctx, bookID, sl, tl)
		if err != nil {
			logger.WithError(err).Warn("Failed to load stored glossary")
		} else if len(entries) > 0 {
			generated = glossary.New(entries, logger)
			logger.WithField("entries", generated.Len()).Info("Reusing stored glossary")
		}
	}

	if generated == nil {
		builder := &glossary.Builder{
			Extractor: translator.Extractor(o.provider, sl, tl),
			MaxChars:  o.provider.Capabilities().MaxContextChars,
			Strict:    o.config.StrictGlossary,
			Workers:   o.config.Workers,
			Logger:    logger,
		}
		var err error
		generated, err = builder.Build(ctx, sections)
		if err != nil {
			sink.Emit(progress.Event{RunID: runID, Kind: progress.GlossaryDone, Err: err.Error(), Time: time.Now()})
			return nil, false, fmt.Errorf("building glossary: %w", err)
		}
		if o.Glossaries != nil && !generated.Degraded() && generated.Len() > 0 {
			if err := o.Glossaries.ReplaceBookGlossary(ctx, bookID, sl, tl, generated.Entries()); err != nil {
				logger.WithError(err).Warn("Failed to store glossary")
			}
		}
	}

	var user *glossary.Glossary
	if o.Glossaries != nil {
		entries, err := o.Glossaries.GetUserGlossary(ctx, bookID, sl, tl)
		if err != nil {
			logger.WithError(err).Warn("Failed to load user glossary")
		} else {
			user = glossary.New(entries, logger)
		}
	}

	gloss := glossary.Merge(generated, user, o.Glossary)
	ev := progress.Event{RunID: runID, Kind: progress.GlossaryDone, Entries: gloss.Len(), Time: time.Now()}
	if generated.Degraded() {
		ev.Err = "glossary extraction failed, translating without a generated glossary"
	}
	sink.Emit(ev)
	return gloss, generated.Degraded(), nil
}

func (o *Orchestrator) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (o *Orchestrator) sink() progress.Sink {
	if o.Sink != nil {
		return o.Sink
	}
	return progress.Discard
}

