package glossary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/epubtran/internal/chunker"
)

var (
	// ErrBuildFailure is returned by a strict Builder when terminology
	// extraction fails for any chunk.
	ErrBuildFailure = errors.New("glossary build failed")
	// ErrUnsupported is returned by an Extractor whose backend cannot
	// extract terminology at all. Build then returns an empty glossary that
	// is not degraded.
	ErrUnsupported = errors.New("terminology extraction not supported")
)

// DefaultMaxChars is the chunk size used when Builder.MaxChars is unset.
const DefaultMaxChars = 10000

// Extractor proposes glossary entries for a block of source text.
type Extractor interface {
	ExtractTerminology(ctx context.Context, text string) ([]Entry, error)
}

// Builder extracts a glossary from the whole book.
type Builder struct {
	Extractor Extractor
	// MaxChars bounds the size of each text block sent to the extractor.
	MaxChars int
	// Strict turns any extraction failure into ErrBuildFailure instead of an
	// empty glossary.
	Strict bool
	// Workers bounds the number of concurrent extraction calls.
	Workers int
	Logger  logrus.FieldLogger
}

// Build joins sections, splits the text into blocks and extracts entries
// from each block. Results are merged in block order so later blocks win
// conflicts. On failure a non-strict builder logs a warning and returns an
// empty, degraded glossary.
func (b *Builder) Build(ctx context.Context, sections []string) (*Glossary, error) {
	logger := b.Logger
	if logger == nil {
		logger = discardLogger()
	}

	text := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if text == "" {
		return Empty(), nil
	}

	maxChars := b.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	chunks := chunker.Chunk(text, maxChars)
	results := make([][]Entry, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	if b.Workers > 0 {
		g.SetLimit(b.Workers)
	}
	for i, chunk := range chunks {
		g.Go(func() error {
			entries, err := b.Extractor.ExtractTerminology(gctx, chunk)
			if err != nil {
				return fmt.Errorf("block %d/%d: %w", i+1, len(chunks), err)
			}
			results[i] = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrUnsupported) {
			logger.WithError(err).Info("Terminology extraction not available, using supplied glossary entries only")
			return Empty(), nil
		}
		if b.Strict {
			return nil, fmt.Errorf("%w: %w", ErrBuildFailure, err)
		}
		logger.WithError(err).Warn("Terminology extraction failed, continuing without a glossary")
		return &Glossary{index: map[string]int{}, degraded: true}, nil
	}

	var all []Entry
	for _, entries := range results {
		all = append(all, entries...)
	}
	glossary := New(all, logger)
	logger.WithFields(logrus.Fields{
		"blocks":  len(chunks),
		"entries": glossary.Len(),
	}).Info("Glossary built")
	return glossary, nil
}
