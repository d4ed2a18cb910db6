package translator

import (
	"context"
	"errors"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/valpere/epubtran/internal/glossary"
)

const (
	// Cloud Translation accepts at most 128 segments per request.
	defaultGoogleBatchSize = 128
	defaultGoogleContext   = 5000
)

// GoogleProvider uses Google Cloud Translation. It cannot follow prompt
// instructions, so glossary terms are swapped for placeholders before the
// request and replaced with their translations afterwards.
type GoogleProvider struct {
	client *translate.Client
	caps   Capabilities
}

func NewGoogleProvider(ctx context.Context, cfg ServiceConfig) (*GoogleProvider, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Credentials != "":
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	return newGoogleProvider(ctx, cfg, opts...)
}

func newGoogleProvider(ctx context.Context, cfg ServiceConfig, opts ...option.ClientOption) (*GoogleProvider, error) {
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &GoogleProvider{
		client: client,
		caps:   capabilities(cfg, defaultGoogleBatchSize, defaultGoogleContext),
	}, nil
}

func (s *GoogleProvider) Name() string {
	return "google"
}

func (s *GoogleProvider) Capabilities() Capabilities {
	return s.caps
}

func (s *GoogleProvider) Close() error {
	return s.client.Close()
}

func (s *GoogleProvider) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	if len(req.Texts) == 0 {
		return []string{}, nil
	}

	target, err := language.Parse(req.TargetLang)
	if err != nil {
		return nil, permanent(s.Name(), fmt.Errorf("invalid target language: %w", err))
	}
	opts := &translate.Options{Format: translate.Text}
	if req.SourceLang != "" && req.SourceLang != "auto" {
		source, err := language.Parse(req.SourceLang)
		if err != nil {
			return nil, permanent(s.Name(), fmt.Errorf("invalid source language: %w", err))
		}
		opts.Source = source
	}

	protected, markers := protectTerms(req.Texts, req.Glossary)
	translations, err := s.client.Translate(ctx, protected, target, opts)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	if len(translations) != len(req.Texts) {
		return nil, transient(s.Name(), fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(req.Texts), len(translations)))
	}

	texts := make([]string, len(translations))
	for i, tr := range translations {
		texts[i] = tr.Text
	}
	return restoreTerms(s.Name(), texts, markers)
}

// ExtractTerminology is not available on a machine translation API.
func (s *GoogleProvider) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	return nil, permanent(s.Name(), ErrUnsupported)
}

func (s *GoogleProvider) classify(ctx context.Context, err error) *ProviderError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return statusError(s.Name(), apiErr.Code, err)
	}
	return transportError(ctx, s.Name(), err)
}
