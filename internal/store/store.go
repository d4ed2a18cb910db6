// Package store persists translation memory, book glossaries and run
// history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/epubtran/internal"
	"github.com/valpere/epubtran/internal/glossary"
)

const (
	originUser      = "user"
	originGenerated = "generated"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_memory (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		-- fingerprint of the glossary entries the text was translated with
		glossary_key TEXT NOT NULL DEFAULT '',
		final_text TEXT NOT NULL,
		service_used TEXT,
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_text, source_lang, target_lang, glossary_key)
	);

	-- glossary holds user terms (book_id '' applies to every book) and
	-- glossaries generated from a book, reused on the next run
	CREATE TABLE IF NOT EXISTS glossary (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT 'user',
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_term TEXT NOT NULL,
		target_term TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(book_id, origin, source_lang, target_lang, source_term)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		title TEXT,
		source_path TEXT,
		output_path TEXT,
		provider TEXT,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		status TEXT NOT NULL,
		glossary_entries INTEGER DEFAULT 0,
		glossary_degraded BOOLEAN DEFAULT FALSE,
		translated INTEGER DEFAULT 0,
		partial INTEGER DEFAULT 0,
		passthrough INTEGER DEFAULT 0,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_chapters (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		href TEXT NOT NULL,
		title TEXT,
		outcome TEXT NOT NULL,
		runs INTEGER DEFAULT 0,
		translated_runs INTEGER DEFAULT 0,
		error TEXT,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- request_log records every provider request of a run, failed ones included
	CREATE TABLE IF NOT EXISTS request_log (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		chapter INTEGER NOT NULL,
		href TEXT NOT NULL,
		batch INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		provider TEXT NOT NULL,
		segments INTEGER NOT NULL,
		chars INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memory_lookup ON translation_memory(source_text, source_lang, target_lang, glossary_key);
	CREATE INDEX IF NOT EXISTS idx_glossary_lookup ON glossary(book_id, source_lang, target_lang);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_request_log_run ON request_log(run_id, chapter, batch, attempt);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent cache key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// --- translation memory ---

// GetCachedTranslation returns the stored translation of sourceText made with
// the glossary entries identified by glossaryKey (see glossary.Fingerprint).
func (s *Store) GetCachedTranslation(ctx context.Context, sourceText, sourceLang, targetLang, glossaryKey string) (string, bool, error) {
	var finalText string
	var invalidated bool

	key := normalizeText(sourceText)
	err := s.db.QueryRowContext(ctx,
		`SELECT final_text, invalidated FROM translation_memory
		 WHERE source_text = ? AND source_lang = ? AND target_lang = ? AND glossary_key = ?`,
		key, sourceLang, targetLang, glossaryKey).Scan(&finalText, &invalidated)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if invalidated {
		return "", false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_memory SET usage_count = usage_count + 1, last_used = ? WHERE source_text = ? AND source_lang = ? AND target_lang = ? AND glossary_key = ?`,
		time.Now(), key, sourceLang, targetLang, glossaryKey)

	return finalText, true, err
}

func (s *Store) SaveToMemory(ctx context.Context, sourceText, sourceLang, targetLang, glossaryKey, finalText, serviceUsed string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translation_memory (id, source_text, source_lang, target_lang, glossary_key, final_text, service_used, usage_count, invalidated, last_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, FALSE, ?, ?)
		 ON CONFLICT(source_text, source_lang, target_lang, glossary_key) DO UPDATE SET
			final_text = excluded.final_text,
			service_used = excluded.service_used,
			invalidated = FALSE,
			last_used = excluded.last_used`,
		uuid.NewString(), normalizeText(sourceText), sourceLang, targetLang, glossaryKey, finalText, serviceUsed, now, now)
	return err
}

// MemoryEntry is a row from the translation_memory table.
type MemoryEntry struct {
	ID          string
	SourceText  string
	SourceLang  string
	TargetLang  string
	GlossaryKey string
	FinalText   string
	ServiceUsed string
	UsageCount  int
	Invalidated bool
	LastUsed    time.Time
}

// CacheStats summarises translation memory usage.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
}

// InvalidateMemory marks an entry as stale so it is no longer served.
func (s *Store) InvalidateMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE translation_memory SET invalidated = TRUE WHERE id = ?`, id)
	return err
}

// DeleteMemory permanently removes a translation memory entry by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory WHERE id = ?`, id)
	return err
}

// ClearMemory removes all translation memory entries.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMemory returns all translation memory entries ordered by most recently used.
func (s *Store) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_text, source_lang, target_lang, glossary_key, final_text, COALESCE(service_used, ''), usage_count, invalidated, last_used
		 FROM translation_memory ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.SourceText, &e.SourceLang, &e.TargetLang, &e.GlossaryKey, &e.FinalText, &e.ServiceUsed, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the translation memory.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM translation_memory`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// --- glossary ---

// GlossaryEntry represents a row in the glossary table.
type GlossaryEntry struct {
	ID         string
	BookID     string
	Origin     string
	SourceLang string
	TargetLang string
	SourceTerm string
	TargetTerm string
	Note       string
	CreatedAt  time.Time
}

// AddGlossaryTerm inserts or replaces a user glossary entry. An empty bookID
// applies the term to every book.
func (s *Store) AddGlossaryTerm(ctx context.Context, bookID, sourceLang, targetLang string, e glossary.Entry) error {
	return addTerm(ctx, s.db, bookID, originUser, sourceLang, targetLang, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addTerm(ctx context.Context, db execer, bookID, origin, sourceLang, targetLang string, e glossary.Entry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO glossary (id, book_id, origin, source_lang, target_lang, source_term, target_term, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(book_id, origin, source_lang, target_lang, source_term) DO UPDATE SET
			target_term = excluded.target_term,
			note = excluded.note`,
		uuid.NewString(), bookID, origin, sourceLang, targetLang, e.Term, e.Translation, e.Note)
	return err
}

// GetGlossary returns the glossary generated for a book on an earlier run.
func (s *Store) GetGlossary(ctx context.Context, bookID, sourceLang, targetLang string) ([]glossary.Entry, error) {
	return s.queryEntries(ctx,
		`SELECT source_term, target_term, note FROM glossary
		 WHERE origin = ? AND book_id = ? AND source_lang = ? AND target_lang = ?
		 ORDER BY source_term`,
		originGenerated, bookID, sourceLang, targetLang)
}

// GetUserGlossary returns the user terms that apply to a book: global terms
// first, then the book's own terms, so the latter win when merged in order.
func (s *Store) GetUserGlossary(ctx context.Context, bookID, sourceLang, targetLang string) ([]glossary.Entry, error) {
	return s.queryEntries(ctx,
		`SELECT source_term, target_term, note FROM glossary
		 WHERE origin = ? AND (book_id = '' OR book_id = ?) AND source_lang = ? AND target_lang = ?
		 ORDER BY book_id <> '', source_term`,
		originUser, bookID, sourceLang, targetLang)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]glossary.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []glossary.Entry
	for rows.Next() {
		var e glossary.Entry
		if err := rows.Scan(&e.Term, &e.Translation, &e.Note); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceBookGlossary stores a freshly generated glossary for a book,
// dropping the previously generated one. User terms are kept.
func (s *Store) ReplaceBookGlossary(ctx context.Context, bookID, sourceLang, targetLang string, entries []glossary.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM glossary WHERE origin = ? AND book_id = ? AND source_lang = ? AND target_lang = ?`,
		originGenerated, bookID, sourceLang, targetLang); err != nil {
		return err
	}
	for _, e := range entries {
		if err := addTerm(ctx, tx, bookID, originGenerated, sourceLang, targetLang, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListGlossaryTerms returns all glossary entries, optionally filtered by language
// pair (pass empty strings to return everything).
func (s *Store) ListGlossaryTerms(ctx context.Context, sourceLang, targetLang string) ([]GlossaryEntry, error) {
	query := `SELECT id, book_id, origin, source_lang, target_lang, source_term, target_term, note, created_at FROM glossary`
	var args []interface{}

	switch {
	case sourceLang != "" && targetLang != "":
		query += ` WHERE source_lang = ? AND target_lang = ?`
		args = append(args, sourceLang, targetLang)
	case sourceLang != "":
		query += ` WHERE source_lang = ?`
		args = append(args, sourceLang)
	case targetLang != "":
		query += ` WHERE target_lang = ?`
		args = append(args, targetLang)
	}
	query += ` ORDER BY book_id, origin, source_lang, target_lang, source_term`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []GlossaryEntry
	for rows.Next() {
		var e GlossaryEntry
		if err := rows.Scan(&e.ID, &e.BookID, &e.Origin, &e.SourceLang, &e.TargetLang, &e.SourceTerm, &e.TargetTerm, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteGlossaryTerm removes a glossary entry by ID.
func (s *Store) DeleteGlossaryTerm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM glossary WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("glossary entry not found: %s", id)
	}
	return nil
}

// --- run history ---

// SaveRun stores a run summary with its chapters.
func (s *Store) SaveRun(ctx context.Context, r internal.RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, book_id, title, source_path, output_path, provider, source_lang, target_lang, status,
			glossary_entries, glossary_degraded, translated, partial, passthrough, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BookID, r.Title, r.SourcePath, r.OutputPath, r.Provider, r.SourceLang, r.TargetLang, r.Status,
		r.GlossaryEntries, r.GlossaryDegraded, r.Translated, r.Partial, r.Passthrough, r.StartedAt, r.FinishedAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_chapters WHERE run_id = ?`, r.ID); err != nil {
		return err
	}
	for _, c := range r.Chapters {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_chapters (run_id, idx, href, title, outcome, runs, translated_runs, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, c.Index, c.Href, c.Title, c.Outcome, c.Runs, c.TranslatedRuns, c.Error)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const runColumns = `id, book_id, COALESCE(title, ''), COALESCE(source_path, ''), COALESCE(output_path, ''), COALESCE(provider, ''),
	source_lang, target_lang, status, glossary_entries, glossary_degraded, translated, partial, passthrough, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (internal.RunRecord, error) {
	var r internal.RunRecord
	err := row.Scan(&r.ID, &r.BookID, &r.Title, &r.SourcePath, &r.OutputPath, &r.Provider,
		&r.SourceLang, &r.TargetLang, &r.Status, &r.GlossaryEntries, &r.GlossaryDegraded,
		&r.Translated, &r.Partial, &r.Passthrough, &r.StartedAt, &r.FinishedAt)
	return r, err
}

// ListRuns returns the most recent runs first, without chapters. A
// non-positive limit returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]internal.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []internal.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its chapters.
func (s *Store) GetRun(ctx context.Context, id string) (*internal.RunRecord, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, href, COALESCE(title, ''), outcome, runs, translated_runs, COALESCE(error, '') FROM run_chapters WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c internal.ChapterRecord
		if err := rows.Scan(&c.Index, &c.Href, &c.Title, &c.Outcome, &c.Runs, &c.TranslatedRuns, &c.Error); err != nil {
			return nil, err
		}
		r.Chapters = append(r.Chapters, c)
	}
	return &r, rows.Err()
}

// --- request log ---

// SaveAttempt records one provider request.
func (s *Store) SaveAttempt(ctx context.Context, a internal.AttemptRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_log (id, run_id, chapter, href, batch, attempt, provider, segments, chars, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), a.RunID, a.Chapter, a.Href, a.Batch, a.Attempt, a.Provider,
		a.Segments, a.Chars, a.LatencyMs, a.Error, a.CreatedAt)
	return err
}

// ListAttempts returns the requests of a run in chapter, batch and attempt
// order.
func (s *Store) ListAttempts(ctx context.Context, runID string) ([]internal.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, chapter, href, batch, attempt, provider, segments, chars, latency_ms, error, created_at
		 FROM request_log WHERE run_id = ? ORDER BY chapter, batch, attempt, created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.AttemptRecord
	for rows.Next() {
		var a internal.AttemptRecord
		if err := rows.Scan(&a.RunID, &a.Chapter, &a.Href, &a.Batch, &a.Attempt, &a.Provider,
			&a.Segments, &a.Chars, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
