package embed

import (
	"fmt"
	"strings"
	"testing"
)

func wordsText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestSplitTokensShortTextSingleChunk(t *testing.T) {
	text := "  hello   world  "
	chunks := SplitTokens(text, 256, 32)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("Short text should pass through unchanged, got %q", chunks[0])
	}
}

func TestSplitTokensExactBoundary(t *testing.T) {
	text := wordsText(4)
	chunks := SplitTokens(text, 4, 1)
	if len(chunks) != 1 {
		t.Fatalf("Text of exactly chunkTokens words should be 1 chunk, got %d", len(chunks))
	}
}

func TestSplitTokensOverlap(t *testing.T) {
	chunks := SplitTokens(wordsText(10), 4, 2)
	want := []string{
		"w0 w1 w2 w3",
		"w2 w3 w4 w5",
		"w4 w5 w6 w7",
		"w6 w7 w8 w9",
	}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d: %v", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("Chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
}

func TestSplitTokensNoOverlap(t *testing.T) {
	chunks := SplitTokens(wordsText(10), 4, 0)
	want := []string{"w0 w1 w2 w3", "w4 w5 w6 w7", "w8 w9"}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d: %v", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("Chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
}

func TestSplitTokensOverlapClamped(t *testing.T) {
	// Overlap >= chunkTokens must still make progress.
	chunks := SplitTokens(wordsText(4), 2, 5)
	want := []string{"w0 w1", "w1 w2", "w2 w3"}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d: %v", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("Chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
}

func TestSplitTokensZeroChunkSize(t *testing.T) {
	text := wordsText(50)
	chunks := SplitTokens(text, 0, 0)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("chunkTokens<=0 should return the whole text, got %v", chunks)
	}
}

func TestSplitTokensCoversAllWords(t *testing.T) {
	chunks := SplitTokens(wordsText(23), 5, 2)
	seen := make(map[string]bool)
	for _, c := range chunks {
		for _, w := range strings.Fields(c) {
			seen[w] = true
		}
	}
	for i := 0; i < 23; i++ {
		if !seen[fmt.Sprintf("w%d", i)] {
			t.Errorf("Word w%d missing from chunks", i)
		}
	}
}
