package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/valpere/epubtran/internal/glossary"
)

const (
	defaultMyMemoryURL = "https://api.mymemory.translated.net"
	// MyMemory rejects queries above 500 bytes.
	defaultMyMemoryContext = 150
)

// MyMemoryProvider uses the free MyMemory API, one segment per request.
// The API key field carries the contact e-mail that raises the daily quota.
type MyMemoryProvider struct {
	email   string
	baseURL string
	caps    Capabilities
	client  *http.Client
}

func NewMyMemoryProvider(cfg ServiceConfig) *MyMemoryProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMyMemoryURL
	}
	return &MyMemoryProvider{
		email:   cfg.APIKey,
		baseURL: baseURL,
		caps:    capabilities(cfg, 1, defaultMyMemoryContext),
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

func (s *MyMemoryProvider) Name() string {
	return "mymemory"
}

func (s *MyMemoryProvider) Capabilities() Capabilities {
	return s.caps
}

func (s *MyMemoryProvider) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	protected, markers := protectTerms(req.Texts, req.Glossary)
	out := make([]string, len(protected))
	for i, text := range protected {
		translated, err := s.translateOne(ctx, text, req.SourceLang, req.TargetLang)
		if err != nil {
			return nil, err
		}
		out[i] = translated
	}
	return restoreTerms(s.Name(), out, markers)
}

func (s *MyMemoryProvider) translateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == "" || sourceLang == "auto" {
		sourceLang = "ja"
	}

	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", sourceLang+"|"+targetLang)
	if s.email != "" {
		q.Set("de", s.email)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/get?"+q.Encode(), nil)
	if err != nil {
		return "", permanent(s.Name(), fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(s.Name(), resp.StatusCode, fmt.Errorf("API returned status %d", resp.StatusCode))
	}

	var mymemResp struct {
		ResponseData struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
		ResponseStatus  json.Number `json:"responseStatus"`
		ResponseDetails string      `json:"responseDetails"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mymemResp); err != nil {
		return "", transient(s.Name(), fmt.Errorf("failed to decode response: %w", err))
	}

	// The HTTP status is always 200; the real one is in the body.
	if status, _ := mymemResp.ResponseStatus.Int64(); status != http.StatusOK {
		return "", statusError(s.Name(), int(status), fmt.Errorf("API error: %s", mymemResp.ResponseDetails))
	}
	return mymemResp.ResponseData.TranslatedText, nil
}

func (s *MyMemoryProvider) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	return nil, permanent(s.Name(), ErrUnsupported)
}
