package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/valpere/epubtran/internal"
	"github.com/valpere/epubtran/internal/chunker"
	"github.com/valpere/epubtran/internal/document"
	"github.com/valpere/epubtran/internal/epub"
	"github.com/valpere/epubtran/internal/glossary"
	"github.com/valpere/epubtran/internal/progress"
	"github.com/valpere/epubtran/internal/translator"
)

// contextRuns bounds how many preceding runs are considered for the
// previous-context snippet.
const contextRuns = 8

// batch is a contiguous slice of pending run indices.
type batch []int

// chapterRun is the translation state of one chapter. It is owned by a
// single worker.
type chapterRun struct {
	o      *Orchestrator
	job    *chapterJob
	gloss  *glossary.Glossary
	report *ChapterReport
	runID  string
	logger logrus.FieldLogger
	m      machine

	translated []string
	done       []bool
	batchNo    int
	batches    int
	attempt    int
}

func (o *Orchestrator) translateChapter(ctx context.Context, book *epub.Book, job *chapterJob, gloss *glossary.Glossary, report *ChapterReport, runID string) {
	ctx, cancel := context.WithTimeout(ctx, o.config.ChapterTimeout)
	defer cancel()

	c := &chapterRun{
		o:          o,
		job:        job,
		gloss:      gloss,
		report:     report,
		runID:      runID,
		translated: make([]string, len(job.runs)),
		done:       make([]bool, len(job.runs)),
		logger: o.logger().WithFields(logrus.Fields{
			"run_id":  runID,
			"chapter": job.chapter.Index,
			"href":    job.chapter.Href,
		}),
	}
	c.m = machine{state: Pending, emit: c.emitState}

	err := c.translate(ctx)
	report.State = c.m.state
	report.Batches = c.batches
	for _, ok := range c.done {
		if ok {
			report.TranslatedRuns++
		}
	}

	switch {
	case err == nil:
		report.Outcome = Translated
	case o.config.AllowPartial && report.TranslatedRuns > 0:
		report.Outcome = Partial
		report.Err = err
	default:
		report.Outcome = Passthrough
		report.Err = err
		c.logger.WithError(err).Warn("Chapter failed, passing it through")
		return
	}

	if err := c.reassemble(book); err != nil {
		report.Outcome = Passthrough
		report.Err = err
		c.logger.WithError(err).Warn("Chapter cannot be reassembled, passing it through")
		return
	}
	if report.Outcome == Partial {
		c.logger.WithError(report.Err).
			WithField("translated_runs", report.TranslatedRuns).
			Warn("Chapter partially translated")
		return
	}
	c.logger.WithField("runs", report.Runs).Info("Chapter translated")
}

// translate drives the state machine until the chapter is Completed or
// Failed. Untranslated runs keep their source text in c.translated.
func (c *chapterRun) translate(ctx context.Context) error {
	for i, r := range c.job.runs {
		c.translated[i] = r.Text
	}

	pending := c.lookupMemory(ctx)
	plan := c.plan(pending)
	c.batches = len(plan)
	c.m.to(Batched)

	if len(plan) == 0 {
		c.m.to(Completed)
		return nil
	}

	for i, b := range plan {
		c.batchNo = i + 1
		if err := c.send(ctx, b); err != nil {
			c.m.to(Failed)
			return err
		}
		c.o.sink().Emit(progress.Event{
			RunID:   c.runID,
			Kind:    progress.BatchDone,
			Chapter: c.job.chapter.Index,
			Href:    c.job.chapter.Href,
			Batch:   c.batchNo,
			Batches: c.batches,
			Runs:    len(b),
			Time:    time.Now(),
		})
	}
	c.m.to(Completed)
	return nil
}

// lookupMemory fills runs found in the translation memory and returns the
// indices still to be sent.
func (c *chapterRun) lookupMemory(ctx context.Context) []int {
	cfg := c.o.config
	pending := make([]int, 0, len(c.job.runs))
	for i, r := range c.job.runs {
		if c.o.Memory != nil {
			text, ok, err := c.o.Memory.GetCachedTranslation(ctx, r.Text, cfg.SourceLang, cfg.TargetLang, c.glossaryKey(r.Text))
			if err != nil {
				c.logger.WithError(err).Debug("Translation memory lookup failed")
			} else if ok {
				c.translated[i] = text
				c.done[i] = true
				c.report.CachedRuns++
				continue
			}
		}
		pending = append(pending, i)
	}
	return pending
}

// plan groups pending runs into ordered batches bounded by the configured
// size and the provider's capabilities. A single run longer than the
// character limit forms its own batch.
func (c *chapterRun) plan(pending []int) []batch {
	cfg := c.o.config
	caps := c.o.provider.Capabilities()
	size := limit(cfg.BatchSize, caps.MaxBatchSize)
	chars := limit(cfg.BatchChars, caps.MaxContextChars)

	var plan []batch
	var cur batch
	curChars := 0
	for _, i := range pending {
		n := len([]rune(c.job.runs[i].Text))
		if len(cur) > 0 && (len(cur) >= size || curChars+n > chars) {
			plan = append(plan, cur)
			cur, curChars = nil, 0
		}
		cur = append(cur, i)
		curChars += n
	}
	if len(cur) > 0 {
		plan = append(plan, cur)
	}
	return plan
}

// limit returns the smaller positive value.
func limit(configured, capability int) int {
	if capability > 0 && capability < configured {
		return capability
	}
	return configured
}

// send requests one batch, retrying transient errors with exponential
// backoff. Results are applied only once the whole batch succeeded.
func (c *chapterRun) send(ctx context.Context, b batch) error {
	cfg := c.o.config
	texts := make([]string, len(b))
	for j, i := range b {
		texts[j] = c.job.runs[i].Text
	}
	req := translator.TranslateRequest{
		Texts:           texts,
		SourceLang:      cfg.SourceLang,
		TargetLang:      cfg.TargetLang,
		Glossary:        c.gloss,
		PreviousContext: c.previousContext(b[0]),
	}

	for retry := 0; ; retry++ {
		c.attempt = retry + 1
		c.m.to(Requested)

		start := time.Now()
		out, err := c.request(ctx, req)
		c.logAttempt(ctx, texts, time.Since(start), err)
		if err == nil {
			for j, i := range b {
				c.translated[i] = out[j]
				c.done[i] = true
			}
			c.remember(ctx, texts, out)
			return nil
		}

		log := c.logger.WithFields(logrus.Fields{"batch": c.batchNo, "attempt": c.attempt})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("batch %d: %w", c.batchNo, ctxErr)
		}
		if !translator.IsTransient(err) {
			log.WithError(err).Warn("Permanent provider error")
			return fmt.Errorf("batch %d: %w", c.batchNo, err)
		}
		if retry >= cfg.MaxRetries {
			log.WithError(err).Warn("Retries exhausted")
			return fmt.Errorf("batch %d: giving up after %d retries: %w", c.batchNo, retry, err)
		}

		c.m.to(Retrying)
		c.report.Retries++
		delay := backoff(retry+1, cfg.BaseDelay, cfg.MaxDelay)
		log.WithError(err).WithField("delay", delay).Info("Transient provider error, retrying")
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("batch %d: %w", c.batchNo, err)
		}
	}
}

// request calls the provider once and checks the response shape and,
// optionally, its language. Both checks fail as transient errors.
func (c *chapterRun) request(ctx context.Context, req translator.TranslateRequest) ([]string, error) {
	name := c.o.provider.Name()
	out, err := c.o.provider.Translate(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(out) != len(req.Texts) {
		return nil, &translator.ProviderError{
			Provider: name,
			Kind:     translator.Transient,
			Err:      fmt.Errorf("%w: sent %d, received %d", translator.ErrLengthMismatch, len(req.Texts), len(out)),
		}
	}
	if c.o.config.ValidateOutput && c.o.Validator != nil {
		if err := c.o.Validator.CheckBatch(out, req.TargetLang); err != nil {
			return nil, &translator.ProviderError{Provider: name, Kind: translator.Transient, Err: err}
		}
	}
	return out, nil
}

// logAttempt records one request in the request log. It is written even
// when ctx is done, so timed-out attempts are kept.
func (c *chapterRun) logAttempt(ctx context.Context, texts []string, latency time.Duration, reqErr error) {
	if c.o.Requests == nil {
		return
	}
	a := internal.AttemptRecord{
		RunID:     c.runID,
		Chapter:   c.job.chapter.Index,
		Href:      c.job.chapter.Href,
		Batch:     c.batchNo,
		Attempt:   c.attempt,
		Provider:  c.o.provider.Name(),
		Segments:  len(texts),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	for _, t := range texts {
		a.Chars += utf8.RuneCountInString(t)
	}
	if reqErr != nil {
		a.Error = reqErr.Error()
	}
	if err := c.o.Requests.SaveAttempt(context.WithoutCancel(ctx), a); err != nil {
		c.logger.WithError(err).Debug("Failed to save request log")
	}
}

// remember stores a completed batch in the translation memory.
func (c *chapterRun) remember(ctx context.Context, sources, translated []string) {
	if c.o.Memory == nil {
		return
	}
	cfg := c.o.config
	for j := range sources {
		err := c.o.Memory.SaveToMemory(ctx, sources[j], cfg.SourceLang, cfg.TargetLang, c.glossaryKey(sources[j]), translated[j], c.o.provider.Name())
		if err != nil {
			c.logger.WithError(err).Debug("Failed to save translation memory")
			return
		}
	}
}

// glossaryKey fingerprints the glossary entries that apply to text.
func (c *chapterRun) glossaryKey(text string) string {
	return glossary.Fingerprint(c.gloss.Relevant(text))
}

// previousContext returns the tail of the translated text that precedes
// run index first.
func (c *chapterRun) previousContext(first int) string {
	n := c.o.config.ContextChars
	if n < 0 || first == 0 {
		return ""
	}
	var parts []string
	for i := max(0, first-contextRuns); i < first; i++ {
		if c.done[i] {
			parts = append(parts, c.translated[i])
		}
	}
	return chunker.ExtractContext(strings.Join(parts, "\n"), n)
}

// reassemble writes the translations into the tree and stores the rendered
// document in the book.
func (c *chapterRun) reassemble(book *epub.Book) error {
	tree := c.job.tree
	if err := document.Apply(tree, c.job.runs, c.translated); err != nil {
		return err
	}
	if c.o.config.StripRuby {
		document.StripRuby(tree)
	}
	out, err := document.Render(tree)
	if err != nil {
		return err
	}
	return book.SetContent(c.job.chapter.Href, out)
}

func (c *chapterRun) emitState(s State) {
	c.report.State = s
	ev := progress.Event{
		RunID:   c.runID,
		Kind:    progress.ChapterState,
		Chapter: c.job.chapter.Index,
		Href:    c.job.chapter.Href,
		State:   string(s),
		Batches: c.batches,
		Time:    time.Now(),
	}
	if s == Requested || s == Retrying {
		ev.Batch = c.batchNo
		ev.Attempt = c.attempt
	}
	c.o.sink().Emit(ev)
}

// backoff returns min(base·2^(n-1), max) for the n-th retry.
func backoff(n int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxDelay || d <= 0 {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
