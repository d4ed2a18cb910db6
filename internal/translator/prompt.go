package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/valpere/epubtran/internal/glossary"
	"github.com/valpere/epubtran/internal/postprocess"
)

// completeFunc sends one system/user exchange to a chat model and returns
// the raw reply. Errors are already *ProviderError.
type completeFunc func(ctx context.Context, system, user string) (string, error)

// languageName returns the English name of a BCP 47 code, or the code
// itself when it cannot be parsed.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// buildSystemPrompt constructs the batch translation prompt, injecting the
// glossary entries relevant to the batch and the previous passage.
func buildSystemPrompt(req TranslateRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a professional literary translator. Translate each segment from %s to %s.\n",
		languageName(req.SourceLang), languageName(req.TargetLang))
	fmt.Fprintf(&sb, "The user message is a JSON object {\"segments\": [...]} with %d segments. ", len(req.Texts))
	fmt.Fprintf(&sb, "Reply with only a JSON object {\"translations\": [...]} holding exactly %d strings, one per segment, in the same order. ", len(req.Texts))
	sb.WriteString("Never merge, split, drop or add segments. Segments may be sentence fragments around a link; translate them as fragments. ")
	sb.WriteString("No explanations, no notes, no quotes around segments.")

	if entries := req.Glossary.Relevant(req.Texts...); len(entries) > 0 {
		sb.WriteString("\n\nTERMINOLOGY (use these exact translations):\n")
		for _, e := range entries {
			if e.Note != "" {
				fmt.Fprintf(&sb, "  %s → %s (%s)\n", e.Term, e.Translation, e.Note)
			} else {
				fmt.Fprintf(&sb, "  %s → %s\n", e.Term, e.Translation)
			}
		}
	}

	if req.PreviousContext != "" {
		fmt.Fprintf(&sb, "\n\nCONTEXT (previous passage for continuity, do NOT translate this):\n...%s", req.PreviousContext)
	}

	return sb.String()
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

type segmentsMessage struct {
	Segments []string `json:"segments"`
}

type translationsReply struct {
	Translations []string `json:"translations"`
}

// decodeTranslations parses a batch reply. Undecodable output and a wrong
// segment count are transient: the model may get it right next time.
func decodeTranslations(provider, reply string, sources []string) ([]string, error) {
	var out translationsReply
	if err := json.Unmarshal([]byte(postprocess.ExtractJSON(reply)), &out); err != nil {
		return nil, transient(provider, fmt.Errorf("undecodable reply: %w", err))
	}
	if len(out.Translations) != len(sources) {
		return nil, transient(provider, fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(sources), len(out.Translations)))
	}
	for i := range out.Translations {
		out.Translations[i] = postprocess.CleanSegment(sources[i], out.Translations[i])
	}
	return out.Translations, nil
}

// translateChat runs a batch through a chat model.
func translateChat(ctx context.Context, provider string, complete completeFunc, req TranslateRequest) ([]string, error) {
	if len(req.Texts) == 0 {
		return []string{}, nil
	}
	user, err := encodeJSON(segmentsMessage{Segments: req.Texts})
	if err != nil {
		return nil, permanent(provider, fmt.Errorf("failed to encode segments: %w", err))
	}
	reply, err := complete(ctx, buildSystemPrompt(req), user)
	if err != nil {
		return nil, err
	}
	return decodeTranslations(provider, reply, req.Texts)
}

func buildTerminologyPrompt(req TerminologyRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You build a translation glossary for a %s book being translated into %s.\n",
		languageName(req.SourceLang), languageName(req.TargetLang))
	sb.WriteString("From the text in the user message, list every character name, group or organisation, place name and invented term ")
	sb.WriteString("that must be translated consistently across the whole book. Give each one fixed translation. ")
	sb.WriteString("For names, transliterate them the way published translations usually do.\n")
	sb.WriteString("Reply with only a JSON object of the form ")
	sb.WriteString(`{"characters": [{"term": "...", "translation": "...", "note": "..."}], "groups": [...], "terms": [...]}`)
	sb.WriteString(". Use an empty list when a category has no entries.")
	return sb.String()
}

// extractChat asks a chat model for glossary candidates.
func extractChat(ctx context.Context, provider string, complete completeFunc, req TerminologyRequest) ([]glossary.Entry, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	reply, err := complete(ctx, buildTerminologyPrompt(req), req.Text)
	if err != nil {
		return nil, err
	}

	var f glossary.File
	if err := json.Unmarshal([]byte(postprocess.ExtractJSON(reply)), &f); err != nil {
		return nil, transient(provider, fmt.Errorf("undecodable terminology reply: %w", err))
	}
	entries := f.All()
	for i := range entries {
		entries[i].Translation = postprocess.Clean(entries[i].Translation)
	}
	return entries, nil
}
