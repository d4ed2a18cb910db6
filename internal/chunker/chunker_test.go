package chunker_test

import (
	"strings"
	"testing"

	"github.com/valpere/epubtran/internal/chunker"
)

// --- Chunk tests ---

func TestChunk_ShortText(t *testing.T) {
	text := "Hello, world!"
	chunks := chunker.Chunk(text, 100)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("expected %q, got %q", text, chunks[0])
	}
}

func TestChunk_Unlimited(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := chunker.Chunk(text, 0)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk when maxChars=0, got %d", len(chunks))
	}
}

func TestChunk_ParagraphBoundary(t *testing.T) {
	// Two paragraphs joined by blank line; each fits in 50 chars when alone.
	para1 := "First paragraph text here."
	para2 := "Second paragraph text here."
	text := para1 + "\n\n" + para2

	chunks := chunker.Chunk(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected ≥2 chunks, got %d: %v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], "First") {
		t.Errorf("first chunk should contain 'First': %q", chunks[0])
	}
	if !strings.Contains(chunks[len(chunks)-1], "Second") {
		t.Errorf("last chunk should contain 'Second': %q", chunks[len(chunks)-1])
	}
}

func TestChunk_SentenceBoundary(t *testing.T) {
	text := "First sentence ends here. Second sentence follows. Third sentence."
	// maxChars just enough to hold first two sentences
	chunks := chunker.Chunk(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected ≥2 chunks, got %d", len(chunks))
	}
	// Each chunk should be non-empty and trimmed.
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if c != strings.TrimSpace(c) {
			t.Errorf("chunk %d has leading/trailing whitespace: %q", i, c)
		}
	}
}

func TestChunk_WordBoundary(t *testing.T) {
	// No sentence-ending punctuation, no paragraphs.
	text := "one two three four five six seven eight nine ten"
	chunks := chunker.Chunk(text, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected ≥2 chunks, got %d", len(chunks))
	}
	// Reassemble and verify no words are lost.
	rejoined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		if !strings.Contains(rejoined, word) {
			t.Errorf("word %q lost after chunking", word)
		}
	}
}

func TestChunk_ReconstructsFullText(t *testing.T) {
	// After joining chunks the full text should be recovered (ignoring trim).
	original := "The quick brown fox jumps over the lazy dog. " +
		"Pack my box with five dozen liquor jugs. " +
		"How vexingly quick daft zebras jump!"
	chunks := chunker.Chunk(original, 50)
	rejoined := strings.Join(chunks, " ")
	// Every word in the original should appear in the rejoined text.
	for _, word := range strings.Fields(original) {
		clean := strings.Trim(word, ".,!?")
		if !strings.Contains(rejoined, clean) {
			t.Errorf("word %q missing after chunk+join", clean)
		}
	}
}

func TestChunk_EmptyText(t *testing.T) {
	chunks := chunker.Chunk("", 100)
	// Either 0 chunks or 1 empty chunk; caller trims anyway.
	for _, c := range chunks {
		if c != "" {
			t.Errorf("expected empty chunk, got %q", c)
		}
	}
}

func TestChunk_JapaneseSentences(t *testing.T) {
	text := strings.Repeat("吾輩は猫である。", 10)
	chunks := chunker.Chunk(text, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 20 {
			t.Errorf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if !strings.HasSuffix(c, "。") {
			t.Errorf("chunk %d should end at a sentence boundary: %q", i, c)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestChunk_NewlineBoundary(t *testing.T) {
	text := "一行目の文章\n二行目の文章\n三行目の文章"
	chunks := chunker.Chunk(text, 14)
	if len(chunks) < 2 {
		t.Fatalf("expected ≥2 chunks, got %d", len(chunks))
	}
	if chunks[0] != "一行目の文章\n二行目の文章" {
		t.Errorf("expected split at the last newline, got %q", chunks[0])
	}
}

func TestChunk_HardCut(t *testing.T) {
	text := strings.Repeat("あ", 25)
	chunks := chunker.Chunk(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len([]rune(chunks[2])) != 5 {
		t.Errorf("expected 5 runes in the last chunk, got %d", len([]rune(chunks[2])))
	}
}

// --- ExtractContext tests ---

func TestExtractContext_ShortText(t *testing.T) {
	text := "短い文。"
	if ctx := chunker.ExtractContext(text, 50); ctx != text {
		t.Errorf("expected %q, got %q", text, ctx)
	}
}

func TestExtractContext_StartsAtSentence(t *testing.T) {
	text := "最初の文です。二番目の文です。三番目の文です。"
	ctx := chunker.ExtractContext(text, 12)
	if ctx != "三番目の文です。" {
		t.Errorf("expected the last full sentence, got %q", ctx)
	}
}

func TestExtractContext_NoBoundary(t *testing.T) {
	text := strings.Repeat("あ", 30)
	ctx := chunker.ExtractContext(text, 10)
	if len([]rune(ctx)) != 10 {
		t.Errorf("expected 10 runes, got %d", len([]rune(ctx)))
	}
}

func TestExtractContext_Default(t *testing.T) {
	text := strings.Repeat("x", chunker.DefaultContextRunes*2)
	ctx := chunker.ExtractContext(text, 0)
	if len([]rune(ctx)) != chunker.DefaultContextRunes {
		t.Errorf("expected %d runes, got %d", chunker.DefaultContextRunes, len([]rune(ctx)))
	}
}

func TestExtractContext_Latin(t *testing.T) {
	text := "The first sentence is long enough. The second one ends here."
	ctx := chunker.ExtractContext(text, 30)
	if ctx != "The second one ends here." {
		t.Errorf("unexpected context %q", ctx)
	}
}
