package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/valpere/epubtran/internal/glossary"
)

const (
	defaultSystranURL   = "https://api-systran-systran-translation-v1.p.rapidapi.com"
	systranRapidAPIHost = "api-systran-systran-translation-v1.p.rapidapi.com"
)

// SystranProvider uses the Systran translation API, which accepts a list of
// texts per request. Glossary terms are enforced with placeholders.
type SystranProvider struct {
	apiKey  string
	baseURL string
	caps    Capabilities
	client  *http.Client
}

func NewSystranProvider(cfg ServiceConfig) *SystranProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSystranURL
	}
	return &SystranProvider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		caps:    capabilities(cfg, defaultMaxBatchSize, defaultGoogleContext),
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

func (s *SystranProvider) Name() string {
	return "systran"
}

func (s *SystranProvider) Capabilities() Capabilities {
	return s.caps
}

func (s *SystranProvider) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("Systran API key not configured")
	}
	return nil
}

func (s *SystranProvider) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	if len(req.Texts) == 0 {
		return []string{}, nil
	}
	if s.apiKey == "" {
		return nil, permanent(s.Name(), fmt.Errorf("%w: Systran API key required", ErrMissingCredentials))
	}

	protected, markers := protectTerms(req.Texts, req.Glossary)
	systranReq := map[string]interface{}{
		"input":  protected,
		"source": req.SourceLang,
		"target": req.TargetLang,
		"format": "text",
	}

	jsonData, err := json.Marshal(systranReq)
	if err != nil {
		return nil, permanent(s.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/translation/text/translate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, permanent(s.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-RapidAPI-Key", s.apiKey)
	httpReq.Header.Set("X-RapidAPI-Host", systranRapidAPIHost)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(s.Name(), resp.StatusCode, fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var systranResp struct {
		Outputs []struct {
			Output string `json:"output"`
			Error  string `json:"error"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&systranResp); err != nil {
		return nil, transient(s.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	if len(systranResp.Outputs) != len(req.Texts) {
		return nil, transient(s.Name(), fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(req.Texts), len(systranResp.Outputs)))
	}

	texts := make([]string, len(systranResp.Outputs))
	for i, o := range systranResp.Outputs {
		if o.Error != "" {
			return nil, transient(s.Name(), fmt.Errorf("segment %d: %s", i, o.Error))
		}
		texts[i] = o.Output
	}
	return restoreTerms(s.Name(), texts, markers)
}

func (s *SystranProvider) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	return nil, permanent(s.Name(), ErrUnsupported)
}
