package postprocess

import "testing"

func TestPhases(t *testing.T) {
	tests := []struct {
		name  string
		phase func(string) string
		input string
		want  string
	}{
		{"thinking: none", removeThinkingBlocks, "彼は笑った。", "彼は笑った。"},
		{"thinking: block", removeThinkingBlocks, "그는<thinking>敬語?</thinking> 웃었다.", "그는 웃었다."},
		{"thinking: think and reasoning", removeThinkingBlocks, "<think>a</think>가<reasoning>b</reasoning>나", "가나"},
		{"thinking: truncated", removeThinkingBlocks, "그는 웃었다.<reflection>cut off", "그는 웃었다."},
		{"thinking: only truncated", removeThinkingBlocks, "<thinking>still going", ""},
		{"echo: here is", removeInstructionEchoes, "Here is the translation: 안녕", "안녕"},
		{"echo: certainly", removeInstructionEchoes, "Sure, here's the translated text:\n안녕", "안녕"},
		{"echo: needs colon", removeInstructionEchoes, "Here is the translation of life", "Here is the translation of life"},
		{"echo: not at start", removeInstructionEchoes, "안녕 Translation: 안녕", "안녕 Translation: 안녕"},
		{"quotes: double", removeQuoteWrapping, `"안녕"`, "안녕"},
		{"quotes: curly", removeQuoteWrapping, "“안녕”", "안녕"},
		{"quotes: corner", removeQuoteWrapping, "『안녕』", "안녕"},
		{"quotes: mismatched", removeQuoteWrapping, "「안녕\"", "「안녕\""},
		{"quotes: single rune", removeQuoteWrapping, `"`, `"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.phase(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "clean text",
			input:    "Just a normal translation.",
			expected: "Just a normal translation.",
		},
		{
			name:     "full cleanup pipeline",
			input:    "<thinking>Thinking</thinking>Here's the translation:\n\"Translated text\"",
			expected: "Translated text",
		},
		{
			name:     "thinking + echo + quotes",
			input:    "<reasoning>Reasoning</reasoning>Here's the polished translation:\n\"Result\"",
			expected: "Result",
		},
		{
			name:     "truncated thinking at end",
			input:    "Text<thinking>Incomplete",
			expected: "Text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Clean(tt.input)
			if result != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCleanSegment(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		translated string
		expected   string
	}{
		{"plain", "こんにちは", "안녕하세요", "안녕하세요"},
		{"model added quotes", "こんにちは", "\"안녕하세요\"", "안녕하세요"},
		{"dialogue keeps quotes", "「こんにちは」", "“안녕하세요”", "“안녕하세요”"},
		{"dialogue keeps corner brackets", "「こんにちは」", "「안녕하세요」", "「안녕하세요」"},
		{"thinking removed", "猫", "<think>cat</think>고양이", "고양이"},
		{"echo removed", "猫", "Translation: 고양이", "고양이"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanSegment(tt.source, tt.translated); got != tt.expected {
				t.Errorf("CleanSegment(%q, %q) = %q, want %q", tt.source, tt.translated, got, tt.expected)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare object", `{"translations":["a"]}`, `{"translations":["a"]}`},
		{"fenced", "```json\n{\"translations\":[\"a\"]}\n```", `{"translations":["a"]}`},
		{"prose around", "Here you go:\n{\"a\":1}\nDone.", `{"a":1}`},
		{"thinking first", "<think>{\"wrong\":1}</think>{\"right\":2}", `{"right":2}`},
		{"no object", "  nothing here  ", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.expected {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
