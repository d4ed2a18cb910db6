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
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5:14b"
	// local models lose track of long segment lists
	defaultOllamaBatchSize = 20
)

// OllamaProvider runs translations on a local Ollama server.
type OllamaProvider struct {
	baseURL string
	model   string
	caps    Capabilities
	client  *http.Client
}

func NewOllamaProvider(cfg ServiceConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		caps:    capabilities(cfg, defaultOllamaBatchSize, defaultMaxContext),
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

func (s *OllamaProvider) Name() string {
	return "ollama"
}

func (s *OllamaProvider) Capabilities() Capabilities {
	return s.caps
}

func (s *OllamaProvider) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	return translateChat(ctx, s.Name(), s.complete, req)
}

func (s *OllamaProvider) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	return extractChat(ctx, s.Name(), s.complete, req)
}

func (s *OllamaProvider) IsAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("Ollama not available: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *OllamaProvider) complete(ctx context.Context, system, user string) (string, error) {
	ollamaReq := map[string]interface{}{
		"model": s.model,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"format":  "json",
		"stream":  false,
		"options": map[string]interface{}{"temperature": 0.3},
	}

	jsonData, err := json.Marshal(ollamaReq)
	if err != nil {
		return "", permanent(s.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", permanent(s.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", transportError(ctx, s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError(s.Name(), resp.StatusCode, fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var ollamaResp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", transient(s.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	return ollamaResp.Message.Content, nil
}
