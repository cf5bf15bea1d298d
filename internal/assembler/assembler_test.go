package assembler

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidocs/backend/internal/rag"
)

func scored(docName string, ordinal int, text string, score float32) rag.Scored {
	return rag.Scored{
		Chunk: rag.Chunk{
			ID:      docName + "_chunk",
			DocName: docName,
			Ordinal: ordinal,
			Text:    text,
		},
		Score: score,
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	a := New(3000)

	c := a.Assemble(nil)
	assert.True(t, c.Empty())
	assert.Zero(t, c.Tokens)
	assert.False(t, c.Truncated)
}

func TestAssembleIncludesAllWithinBudget(t *testing.T) {
	a := New(3000)

	results := []rag.Scored{
		scored("report.pdf", 0, "First chunk text.", 0.9),
		scored("report.pdf", 3, "Second chunk text.", 0.8),
		scored("notes.txt", 1, "Third chunk text.", 0.7),
	}

	c := a.Assemble(results)
	require.False(t, c.Empty())
	require.Len(t, c.Citations, 3)

	assert.Contains(t, c.Text, "[source 1: report.pdf]")
	assert.Contains(t, c.Text, "[source 2: report.pdf]")
	assert.Contains(t, c.Text, "[source 3: notes.txt]")
	assert.Contains(t, c.Text, "First chunk text.")
	assert.Contains(t, c.Text, "Third chunk text.")

	// Citations keep retrieval order and carry provenance.
	assert.Equal(t, "report.pdf", c.Citations[0].Document)
	assert.Equal(t, 0, c.Citations[0].Ordinal)
	assert.InDelta(t, 0.9, c.Citations[0].Score, 1e-6)
	assert.Equal(t, "notes.txt", c.Citations[2].Document)

	assert.False(t, c.Truncated)
	assert.LessOrEqual(t, c.Tokens, 3000)
}

func TestAssembleStopsBeforeExceedingBudget(t *testing.T) {
	a := New(100)

	small := strings.Repeat("a", 200) // ~50 tokens
	big := strings.Repeat("b", 400)   // ~100 tokens, cannot fit after small

	c := a.Assemble([]rag.Scored{
		scored("one.txt", 0, small, 0.9),
		scored("two.txt", 0, big, 0.8),
	})

	require.Len(t, c.Citations, 1)
	assert.Equal(t, "one.txt", c.Citations[0].Document)
	assert.NotContains(t, c.Text, "bbbb")
	assert.False(t, c.Truncated)
	assert.LessOrEqual(t, c.Tokens, 100)
}

func TestAssembleTruncatesOversizedFirstChunk(t *testing.T) {
	a := New(50)

	huge := strings.Repeat("x", 1000)
	c := a.Assemble([]rag.Scored{scored("big.txt", 0, huge, 0.95)})

	require.Len(t, c.Citations, 1)
	assert.True(t, c.Truncated)
	assert.False(t, c.Empty(), "retrieval found something, context must not be empty")
	assert.LessOrEqual(t, c.Tokens, 50)
	assert.Contains(t, c.Text, "[source 1: big.txt]")
}

func TestAssembleSnippetIsBounded(t *testing.T) {
	a := New(3000)

	long := strings.Repeat("word ", 100)
	c := a.Assemble([]rag.Scored{scored("doc.txt", 2, long, 0.5)})

	require.Len(t, c.Citations, 1)
	assert.LessOrEqual(t, len(c.Citations[0].Snippet), snippetLen+3)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}

func TestAssembleMultibyteTruncationStaysValidUTF8(t *testing.T) {
	a := New(50)

	// A leading ASCII byte shifts every rune off a 4-byte-multiple
	// offset, so a byte-count cut would split a character.
	text := "a" + strings.Repeat("夏", 300)
	c := a.Assemble([]rag.Scored{scored("cjk.txt", 0, text, 0.9)})

	require.True(t, c.Truncated)
	assert.True(t, utf8.ValidString(c.Text))

	require.Len(t, c.Citations, 1)
	snip := c.Citations[0].Snippet
	assert.True(t, utf8.ValidString(snip))
	assert.True(t, strings.HasSuffix(snip, "..."))
}
