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
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "google/gemini-2.5-flash"
)

// OpenRouterProvider talks to the OpenRouter chat completions API.
type OpenRouterProvider struct {
	apiKey  string
	baseURL string
	model   string
	caps    Capabilities
	client  *http.Client
}

func NewOpenRouterProvider(cfg ServiceConfig) *OpenRouterProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenRouterModel
	}
	return &OpenRouterProvider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		caps:    capabilities(cfg, defaultMaxBatchSize, defaultMaxContext),
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

func (s *OpenRouterProvider) Name() string {
	return "openrouter"
}

func (s *OpenRouterProvider) Capabilities() Capabilities {
	return s.caps
}

func (s *OpenRouterProvider) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	return translateChat(ctx, s.Name(), s.complete, req)
}

func (s *OpenRouterProvider) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	return extractChat(ctx, s.Name(), s.complete, req)
}

func (s *OpenRouterProvider) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("OpenRouter API key not configured")
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *OpenRouterProvider) complete(ctx context.Context, system, user string) (string, error) {
	if s.apiKey == "" {
		return "", permanent(s.Name(), fmt.Errorf("%w: OpenRouter API key required", ErrMissingCredentials))
	}

	openrouterReq := map[string]interface{}{
		"model": s.model,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.3,
	}

	jsonData, err := json.Marshal(openrouterReq)
	if err != nil {
		return "", permanent(s.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", permanent(s.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://epubtran.local")
	httpReq.Header.Set("X-Title", "EpubTran")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError(s.Name(), resp.StatusCode, fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var openrouterResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openrouterResp); err != nil {
		return "", transient(s.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	// OpenRouter reports upstream failures inside a 200 response.
	if openrouterResp.Error != nil {
		return "", statusError(s.Name(), openrouterResp.Error.Code, fmt.Errorf("upstream error: %s", openrouterResp.Error.Message))
	}
	if len(openrouterResp.Choices) == 0 {
		return "", transient(s.Name(), fmt.Errorf("empty response from API"))
	}
	return openrouterResp.Choices[0].Message.Content, nil
}
