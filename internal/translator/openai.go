package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/valpere/epubtran/internal/glossary"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"

	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultGeminiModel = "gemini-2.5-flash"
)

// OpenAIProvider talks to OpenAI or any OpenAI-compatible endpoint, such as
// the Gemini compatibility API, selected by BaseURL.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	apiKey string
	model  string
	caps   Capabilities
}

func NewOpenAIProvider(cfg ServiceConfig) *OpenAIProvider {
	return newOpenAIProvider("openai", defaultOpenAIModel, cfg)
}

// NewGeminiProvider uses the OpenAI compatibility endpoint of the Gemini API.
func NewGeminiProvider(cfg ServiceConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiURL
	}
	return newOpenAIProvider("gemini", defaultGeminiModel, cfg)
}

func newOpenAIProvider(name, defaultModel string, cfg ServiceConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout(cfg)}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(clientCfg),
		apiKey: cfg.APIKey,
		model:  model,
		caps:   capabilities(cfg, defaultMaxBatchSize, defaultMaxContextHost),
	}
}

func (s *OpenAIProvider) Name() string {
	return s.name
}

func (s *OpenAIProvider) Capabilities() Capabilities {
	return s.caps
}

func (s *OpenAIProvider) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	return translateChat(ctx, s.Name(), s.complete, req)
}

func (s *OpenAIProvider) ExtractTerminology(ctx context.Context, req TerminologyRequest) ([]glossary.Entry, error) {
	return extractChat(ctx, s.Name(), s.complete, req)
}

func (s *OpenAIProvider) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("OpenAI API key not configured")
	}
	return nil
}

func (s *OpenAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	if s.apiKey == "" {
		return "", permanent(s.Name(), fmt.Errorf("%w: API key required", ErrMissingCredentials))
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", s.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", transient(s.Name(), fmt.Errorf("no response choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIProvider) classify(ctx context.Context, err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(s.Name(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(s.Name(), reqErr.HTTPStatusCode, err)
	}
	return transportError(ctx, s.Name(), err)
}
