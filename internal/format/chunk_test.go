package format

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestChunkShortTextUntouched(t *testing.T) {
	f := New(0, 100)
	assert.Equal(t, []string{"hello"}, f.Chunk("hello"))

	exact := strings.Repeat("a", 100)
	assert.Equal(t, []string{exact}, f.Chunk(exact))
}

func TestChunkMarksNonFinalChunks(t *testing.T) {
	f := New(0, 100)
	chunks := f.Chunk(strings.Repeat("a", 250))
	require.Len(t, chunks, 3)
	assert.True(t, strings.HasSuffix(chunks[0], ChunkContinuation))
	assert.True(t, strings.HasSuffix(chunks[1], ChunkContinuation))
	assert.False(t, strings.HasSuffix(chunks[2], ChunkContinuation))
}

func TestChunkPrefersSentenceBoundary(t *testing.T) {
	f := New(0, 100)
	sentence := "The quick brown fox jumps over the lazy dog. "
	text := strings.Repeat(sentence, 5)

	chunks := f.Chunk(text)
	require.Greater(t, len(chunks), 1)

	first := strings.TrimSuffix(chunks[0], ChunkContinuation)
	assert.True(t, strings.HasSuffix(strings.TrimRight(first, " "), "."),
		"chunk should end on a sentence boundary, got %q", first)
}

func TestChunkKeepsShortCodeBlockWhole(t *testing.T) {
	f := New(0, 100)
	prose := strings.Repeat("word ", 16) // 80 runes
	block := "```\ncode line one\ncode line 2\n```"
	text := prose + block + "\n" + strings.Repeat("tail ", 10)

	chunks := f.Chunk(text)
	require.Greater(t, len(chunks), 1)
	found := false
	for _, c := range chunks {
		if strings.Count(c, "```") == 2 {
			found = true
		}
		assert.NotEqual(t, 1, strings.Count(c, "```"), "a chunk split the fenced block: %q", c)
	}
	assert.True(t, found, "one chunk should carry the whole block")
}

func TestChunkSplitsOversizedCodeBlock(t *testing.T) {
	f := New(0, 100)
	text := "intro text here. " + "```\n" + strings.Repeat("x", 300) + "\n```"
	chunks := f.Chunk(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 100)
	}
}

// Chunking never loses or reorders text and never exceeds the size cap.
func TestChunkRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(10, 200).Draw(rt, "size")
		text := rapid.StringMatching(`[a-zA-Z0-9 .!?\n]{0,800}`).Draw(rt, "text")
		f := New(0, size)

		chunks := f.Chunk(text)
		if len(chunks) == 0 {
			rt.Fatalf("no chunks for %q", text)
		}

		var b strings.Builder
		for i, c := range chunks {
			if utf8.RuneCountInString(c) > size {
				rt.Fatalf("chunk %d exceeds %d runes: %q", i, size, c)
			}
			if i < len(chunks)-1 {
				if !strings.HasSuffix(c, ChunkContinuation) {
					rt.Fatalf("non-final chunk %d lacks marker: %q", i, c)
				}
				b.WriteString(strings.TrimSuffix(c, ChunkContinuation))
			} else {
				b.WriteString(c)
			}
		}
		if b.String() != text {
			rt.Fatalf("reassembled text differs:\nwant %q\ngot  %q", text, b.String())
		}
	})
}
