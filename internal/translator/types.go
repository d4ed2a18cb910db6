// Package translator defines the provider interface used by the pipeline
// and its concrete variants: hosted LLM APIs (OpenRouter, OpenAI-compatible
// endpoints), local inference through Ollama and Google Cloud Translation.
package translator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valpere/epubtran/internal/glossary"
)

// ServiceConfig is the per-provider configuration block.
type ServiceConfig struct {
	Credentials       string        `mapstructure:"credentials" json:"credentials"`
	APIKey            string        `mapstructure:"api_key" json:"api_key"`
	Model             string        `mapstructure:"model" json:"model"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID         string        `mapstructure:"project_id" json:"project_id"`
	MaxBatchSize      int           `mapstructure:"max_batch_size" json:"max_batch_size"`
	MaxContextChars   int           `mapstructure:"max_context_chars" json:"max_context_chars"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" json:"requests_per_minute"`
}

// Capabilities are static limits of a provider. The orchestrator never
// sends a batch with more than MaxBatchSize segments or more than
// MaxContextChars runes of source text.
type Capabilities struct {
	MaxBatchSize    int
	MaxContextChars int
}

// TranslateRequest is one batch of segments. Glossary may be nil.
// PreviousContext is read-only text preceding the batch.
type TranslateRequest struct {
	Texts           []string
	SourceLang      string
	TargetLang      string
	Glossary        *glossary.Glossary
	PreviousContext string
}

// Provider translates ordered batches of segments. Translate returns
// exactly one string per input segment in input order; any other outcome is
// reported as a *ProviderError.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Translate(ctx context.Context, req TranslateRequest) ([]string, error)
	ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error)
}

// TerminologyRequest asks for glossary candidates in a block of book text.
type TerminologyRequest struct {
	Text       string
	SourceLang string
	TargetLang string
}

const (
	defaultTimeout        = 120 * time.Second
	defaultMaxBatchSize   = 40
	defaultMaxContextHost = 35000
	defaultMaxContext     = 10000
)

func capabilities(cfg ServiceConfig, batch, contextChars int) Capabilities {
	if cfg.MaxBatchSize > 0 {
		batch = cfg.MaxBatchSize
	}
	if cfg.MaxContextChars > 0 {
		contextChars = cfg.MaxContextChars
	}
	return Capabilities{MaxBatchSize: batch, MaxContextChars: contextChars}
}

func timeout(cfg ServiceConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultTimeout
}

// Checker is implemented by providers that can verify their configuration
// or reachability before a run.
type Checker interface {
	IsAvailable(ctx context.Context) error
}

// Extractor adapts a provider to glossary.Extractor for one language pair.
func Extractor(p Provider, sourceLang, targetLang string) glossary.Extractor {
	return extractor{provider: p, sourceLang: sourceLang, targetLang: targetLang}
}

type extractor struct {
	provider   Provider
	sourceLang string
	targetLang string
}

func (e extractor) ExtractTerminology(ctx context.Context, text string) ([]glossary.Entry, error) {
	entries, err := e.provider.ExtractTerminology(ctx, TerminologyRequest{
		Text:       text,
		SourceLang: e.sourceLang,
		TargetLang: e.targetLang,
	})
	if errors.Is(err, ErrUnsupported) {
		return nil, fmt.Errorf("%w: %w", glossary.ErrUnsupported, err)
	}
	return entries, err
}
