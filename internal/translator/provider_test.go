package translator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"google.golang.org/api/option"

	"github.com/valpere/epubtran/internal/glossary"
)

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Format         string            `json:"format"`
	Stream         *bool             `json:"stream"`
}

func segmentsOf(t *testing.T, req chatRequest) []string {
	t.Helper()
	if len(req.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(req.Messages))
	}
	var msg segmentsMessage
	if err := json.Unmarshal([]byte(req.Messages[1].Content), &msg); err != nil {
		t.Fatalf("user message is not a segments object: %v", err)
	}
	return msg.Segments
}

func openRouterReply(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestOpenRouterProvider_Translate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(openRouterReply("```json\n{\"translations\": [\"그는\", \"“가자.”\"]}\n```"))
	}))
	defer server.Close()

	p := NewOpenRouterProvider(ServiceConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test/model"})
	g := glossary.New([]glossary.Entry{{Term: "ハルヒ", Translation: "하루히"}, {Term: "長門", Translation: "나가토"}}, nil)

	out, err := p.Translate(context.Background(), TranslateRequest{
		Texts:           []string{"ハルヒは", "「行こう。」"},
		SourceLang:      "ja",
		TargetLang:      "ko",
		Glossary:        g,
		PreviousContext: "前の段落。",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(out, []string{"그는", "“가자.”"}) {
		t.Errorf("unexpected translations %q", out)
	}

	if got.Model != "test/model" || got.ResponseFormat["type"] != "json_object" {
		t.Errorf("unexpected request %+v", got)
	}
	if segs := segmentsOf(t, got); !slices.Equal(segs, []string{"ハルヒは", "「行こう。」"}) {
		t.Errorf("unexpected segments %q", segs)
	}
	system := got.Messages[0].Content
	for _, want := range []string{"Japanese", "Korean", "ハルヒ → 하루히", "前の段落。", "exactly 2 strings"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q:\n%s", want, system)
		}
	}
	if strings.Contains(system, "長門") {
		t.Errorf("system prompt should only carry relevant terms:\n%s", system)
	}
}

func TestOpenRouterProvider_LengthMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openRouterReply(`{"translations": ["하나"]}`))
	}))
	defer server.Close()

	p := NewOpenRouterProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL})
	_, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"一", "二"}, SourceLang: "ja", TargetLang: "ko"})

	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("length mismatch should be transient")
	}
}

func TestOpenRouterProvider_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"server error", http.StatusBadGateway, ``, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, false},
		{"bad request", http.StatusBadRequest, ``, false},
		{"garbage reply", http.StatusOK, `not json`, true},
		{"upstream error", http.StatusOK, `{"error":{"code":503,"message":"overloaded"}}`, true},
		{"no choices", http.StatusOK, `{"choices":[]}`, true},
		{"undecodable content", http.StatusOK, `{"choices":[{"message":{"content":"sorry, I cannot"}}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			p := NewOpenRouterProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL})
			_, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"一"}, SourceLang: "ja", TargetLang: "ko"})

			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProviderError, got %v", err)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("transient = %v, want %v (%v)", IsTransient(err), tt.transient, err)
			}
			if tt.status != http.StatusOK && pe.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", pe.StatusCode, tt.status)
			}
		})
	}
}

func TestOpenRouterProvider_NoAPIKey(t *testing.T) {
	p := NewOpenRouterProvider(ServiceConfig{})

	_, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"一"}})
	if !errors.Is(err, ErrMissingCredentials) || IsTransient(err) {
		t.Errorf("expected permanent ErrMissingCredentials, got %v", err)
	}
	if p.IsAvailable(context.Background()) == nil {
		t.Error("expected IsAvailable to fail without a key")
	}
}

func TestOpenRouterProvider_EmptyBatch(t *testing.T) {
	p := NewOpenRouterProvider(ServiceConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})

	out, err := p.Translate(context.Background(), TranslateRequest{})
	if err != nil || len(out) != 0 {
		t.Errorf("expected empty result without a request, got %q %v", out, err)
	}
}

func TestOpenRouterProvider_ExtractTerminology(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[1].Content != "ハルヒとキョンはSOS団にいる。" {
			t.Errorf("expected the raw text as user message, got %q", req.Messages[1].Content)
		}
		json.NewEncoder(w).Encode(openRouterReply(`<think>names...</think>{"characters":[{"term":"ハルヒ","translation":"\"하루히\""},{"term":"キョン","translation":"쿈"}],"groups":[{"term":"SOS団","translation":"SOS단"}],"terms":[]}`))
	}))
	defer server.Close()

	p := NewOpenRouterProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL})
	entries, err := p.ExtractTerminology(context.Background(), TerminologyRequest{Text: "ハルヒとキョンはSOS団にいる。", SourceLang: "ja", TargetLang: "ko"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []glossary.Entry{
		{Term: "ハルヒ", Translation: "하루히", Note: "character"},
		{Term: "キョン", Translation: "쿈", Note: "character"},
		{Term: "SOS団", Translation: "SOS단", Note: "group"},
	}
	if !slices.Equal(entries, want) {
		t.Errorf("got %+v, want %+v", entries, want)
	}
}

func TestExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.Messages[0].Content, "Korean") {
			t.Errorf("expected the target language in the system prompt, got %q", req.Messages[0].Content)
		}
		json.NewEncoder(w).Encode(openRouterReply(`{"characters":[{"term":"長門","translation":"나가토"}]}`))
	}))
	defer server.Close()

	var ex glossary.Extractor = Extractor(NewOpenRouterProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL}), "ja", "ko")
	entries, err := ex.ExtractTerminology(context.Background(), "長門は本を読んでいる。")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Translation != "나가토" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestOllamaProvider_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Format != "json" || req.Stream == nil || *req.Stream {
			t.Errorf("expected format json without streaming, got %+v", req)
		}
		if req.Model != defaultOllamaModel {
			t.Errorf("expected default model, got %q", req.Model)
		}
		segs := segmentsOf(t, req)
		resp := translationsReply{Translations: make([]string, len(segs))}
		for i := range segs {
			resp.Translations[i] = "번역"
		}
		content, _ := json.Marshal(resp)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": string(content)},
			"done":    true,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(ServiceConfig{BaseURL: server.URL})
	out, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"一", "二", "三"}, SourceLang: "ja", TargetLang: "ko"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("expected 3 translations, got %d", len(out))
	}
	if caps := p.Capabilities(); caps.MaxBatchSize != defaultOllamaBatchSize || caps.MaxContextChars != defaultMaxContext {
		t.Errorf("unexpected capabilities %+v", caps)
	}
}

func TestOllamaProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewOllamaProvider(ServiceConfig{BaseURL: server.URL})
	_, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"一"}})
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewOllamaProvider(ServiceConfig{BaseURL: server.URL}).IsAvailable(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	server.Close()
	if err := NewOllamaProvider(ServiceConfig{BaseURL: server.URL}).IsAvailable(context.Background()); err == nil {
		t.Error("expected error when Ollama is not running")
	}
}

func TestOpenAIProvider_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected JSON response format, got %v", req.ResponseFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": `{"translations":["고양이","개"]}`},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL})
	out, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"猫", "犬"}, SourceLang: "ja", TargetLang: "ko"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(out, []string{"고양이", "개"}) {
		t.Errorf("unexpected translations %q", out)
	}
	if p.Capabilities().MaxContextChars != defaultMaxContextHost {
		t.Errorf("unexpected capabilities %+v", p.Capabilities())
	}
}

func TestGeminiProvider_Defaults(t *testing.T) {
	p := NewGeminiProvider(ServiceConfig{APIKey: "k"})
	if p.Name() != "gemini" || p.model != defaultGeminiModel {
		t.Errorf("unexpected provider %s with model %s", p.Name(), p.model)
	}
	if NewOpenAIProvider(ServiceConfig{}).Name() != "openai" {
		t.Error("expected the plain OpenAI provider name")
	}
}

func TestOpenAIProvider_StatusClassification(t *testing.T) {
	for _, tt := range []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			io.WriteString(w, `{"error":{"message":"failure","type":"error"}}`)
		}))

		p := NewOpenAIProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL})
		_, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"猫"}})
		server.Close()

		var pe *ProviderError
		if !errors.As(err, &pe) || pe.StatusCode != tt.status || IsTransient(err) != tt.transient {
			t.Errorf("status %d: unexpected error %v", tt.status, err)
		}
	}
}

func TestGoogleProvider_Translate(t *testing.T) {
	var got struct {
		Q      []string `json:"q"`
		Target string   `json:"target"`
		Source string   `json:"source"`
		Format string   `json:"format"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"translations":[{"translatedText":"[PH0]는 달렸다."},{"translatedText":"좋은 아침"}]}}`)
	}))
	defer server.Close()

	p, err := newGoogleProvider(context.Background(), ServiceConfig{},
		option.WithEndpoint(server.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer p.Close()

	g := glossary.New([]glossary.Entry{{Term: "ハルヒ", Translation: "하루히"}}, nil)
	out, err := p.Translate(context.Background(), TranslateRequest{
		Texts:      []string{"ハルヒは走った。", "おはよう"},
		SourceLang: "ja",
		TargetLang: "ko",
		Glossary:   g,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(out, []string{"하루히는 달렸다.", "좋은 아침"}) {
		t.Errorf("unexpected translations %q", out)
	}
	if !slices.Equal(got.Q, []string{"[PH0]は走った。", "おはよう"}) || got.Target != "ko" || got.Source != "ja" || got.Format != "text" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestGoogleProvider_ExtractTerminologyUnsupported(t *testing.T) {
	p := &GoogleProvider{}
	_, err := p.ExtractTerminology(context.Background(), TerminologyRequest{Text: "本文"})
	if !errors.Is(err, ErrUnsupported) || IsTransient(err) {
		t.Errorf("expected permanent ErrUnsupported, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	for status, transient := range map[int]bool{
		408: true, 425: true, 429: true, 500: true, 503: true,
		400: false, 401: false, 403: false, 404: false,
	} {
		if got := statusError("p", status, errors.New("x")).Kind == Transient; got != transient {
			t.Errorf("status %d: transient = %v, want %v", status, got, transient)
		}
	}
}

func TestLanguageName(t *testing.T) {
	if languageName("ja") != "Japanese" || languageName("ko") != "Korean" {
		t.Errorf("unexpected names %q %q", languageName("ja"), languageName("ko"))
	}
	if languageName("not a tag!") != "not a tag!" {
		t.Error("expected unparsable code to be returned as-is")
	}
}

func TestSystranProvider_Translate(t *testing.T) {
	var got struct {
		Input  []string `json:"input"`
		Source string   `json:"source"`
		Target string   `json:"target"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-RapidAPI-Key") != "test-key" {
			t.Errorf("missing API key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"outputs":[{"output":"[PH0]가 왔다."},{"output":"안녕"}]}`)
	}))
	defer server.Close()

	p := NewSystranProvider(ServiceConfig{APIKey: "test-key", BaseURL: server.URL})
	g := glossary.New([]glossary.Entry{{Term: "キョン", Translation: "쿈"}}, nil)

	out, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"キョンが来た。", "こんにちは"}, SourceLang: "ja", TargetLang: "ko", Glossary: g})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(out, []string{"쿈가 왔다.", "안녕"}) {
		t.Errorf("unexpected translations %q", out)
	}
	if got.Input[0] != "[PH0]が来た。" || got.Source != "ja" || got.Target != "ko" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestSystranProvider_Errors(t *testing.T) {
	if _, err := NewSystranProvider(ServiceConfig{}).Translate(context.Background(), TranslateRequest{Texts: []string{"一"}}); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "Forbidden")
	}))
	defer server.Close()

	_, err := NewSystranProvider(ServiceConfig{APIKey: "k", BaseURL: server.URL}).Translate(context.Background(), TranslateRequest{Texts: []string{"一"}})
	if err == nil || IsTransient(err) {
		t.Errorf("expected a permanent error for 403, got %v", err)
	}
}

func TestMyMemoryProvider_Translate(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		if r.URL.Query().Get("langpair") != "ja|ko" || r.URL.Query().Get("de") != "me@example.com" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"responseData":{"translatedText":"번역","match":1},"responseStatus":200}`)
	}))
	defer server.Close()

	p := NewMyMemoryProvider(ServiceConfig{APIKey: "me@example.com", BaseURL: server.URL})
	out, err := p.Translate(context.Background(), TranslateRequest{Texts: []string{"一", "二"}, SourceLang: "ja", TargetLang: "ko"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || !slices.Equal(queries, []string{"一", "二"}) {
		t.Errorf("expected one request per segment, got %q for %q", out, queries)
	}
	if p.Capabilities().MaxBatchSize != 1 {
		t.Errorf("unexpected capabilities %+v", p.Capabilities())
	}
}

func TestMyMemoryProvider_QuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"responseData":{"translatedText":"MYMEMORY WARNING"},"responseStatus":"429","responseDetails":"quota"}`)
	}))
	defer server.Close()

	_, err := NewMyMemoryProvider(ServiceConfig{BaseURL: server.URL}).Translate(context.Background(), TranslateRequest{Texts: []string{"一"}, TargetLang: "ko"})
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestMyMemoryProvider_RestoresGlossaryTerms(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		want      string
		wantError bool
	}{
		{"marker kept", "[PH0]는 집에 돌아갔다.", "다로는 집에 돌아갔다.", false},
		{"marker rewritten", "[PH 0]는 집에 돌아갔다.", "", true},
		{"marker dropped", "그는 집에 돌아갔다.", "", true},
	}

	g := glossary.New([]glossary.Entry{{Term: "太郎", Translation: "다로"}}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if q := r.URL.Query().Get("q"); q != "[PH0]は家に帰った。" {
					t.Errorf("expected the term to be protected, got %q", q)
				}
				json.NewEncoder(w).Encode(map[string]any{
					"responseData":   map[string]any{"translatedText": tt.reply, "match": 1},
					"responseStatus": 200,
				})
			}))
			defer server.Close()

			p := NewMyMemoryProvider(ServiceConfig{BaseURL: server.URL})
			out, err := p.Translate(context.Background(), TranslateRequest{
				Texts:      []string{"太郎は家に帰った。"},
				SourceLang: "ja",
				TargetLang: "ko",
				Glossary:   g,
			})
			if tt.wantError {
				if !errors.Is(err, ErrPlaceholderLost) || !IsTransient(err) {
					t.Errorf("expected a transient ErrPlaceholderLost, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out[0] != tt.want {
				t.Errorf("got %q, want %q", out[0], tt.want)
			}
		})
	}
}
