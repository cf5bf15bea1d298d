package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidocs/backend/internal/rag"
)

func TestNewRejectsBadConfig(t *testing.T) {
	var cfgErr *rag.ConfigError

	_, err := New(0, 0)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(100, -1)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(100, 100)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(100, 150)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSplitEmptyDocument(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	chunks, err := c.Split(rag.Document{ID: "d1", Name: "empty.txt", Content: ""})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Split(rag.Document{ID: "d1", Name: "blank.txt", Content: "  \n\t  \n"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitShortDocument(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	doc := rag.Document{ID: "d1", Name: "short.txt", Content: "A single small document."}
	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "d1_chunk_0", chunks[0].ID)
	assert.Equal(t, doc.Content, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(doc.Content), chunks[0].End)
}

func TestSplitOverlapIsExact(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	// Uniform text with no boundaries anywhere forces hard cuts, so the
	// chunk edges are fully predictable.
	doc := rag.Document{ID: "d1", Name: "uniform.txt", Content: strings.Repeat("a", 2500)}
	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1000, chunks[0].End)
	assert.Equal(t, 800, chunks[1].Start)
	assert.Equal(t, 1800, chunks[1].End)
	assert.Equal(t, 1600, chunks[2].Start)
	assert.Equal(t, 2500, chunks[2].End)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End-200, chunks[i].Start,
			"chunk %d must start exactly overlap bytes before the previous end", i)
		assert.Equal(t, doc.Content[chunks[i].Start:chunks[i].End], chunks[i].Text)
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	content := strings.Repeat("a", 890) + "\n\n" + strings.Repeat("b", 400)
	doc := rag.Document{ID: "d1", Name: "para.txt", Content: content}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"),
		"first chunk should end at the paragraph break")
	assert.Equal(t, 892, chunks[0].End)
	assert.Equal(t, chunks[0].End-200, chunks[1].Start)
	assert.Equal(t, len(content), chunks[1].End)
}

func TestSplitIsDeterministic(t *testing.T) {
	c, err := New(500, 100)
	require.NoError(t, err)

	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)
	doc := rag.Document{ID: "d1", Name: "fox.txt", Content: content}

	first, err := c.Split(doc)
	require.NoError(t, err)
	second, err := c.Split(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSplitOrdinalsAndOffsets(t *testing.T) {
	c, err := New(300, 50)
	require.NoError(t, err)

	content := strings.Repeat("x", 1000)
	doc := rag.Document{ID: "doc-9", Name: "offsets.txt", Content: content}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.Equal(t, "doc-9", ch.DocID)
		assert.Equal(t, content[ch.Start:ch.End], ch.Text)
		assert.LessOrEqual(t, len(ch.Text), 300)
	}
	assert.Equal(t, len(content), chunks[len(chunks)-1].End)
}

func TestSplitMultibyteTextStaysValidUTF8(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	// No paragraph breaks and no sentence punctuation, so every cut is
	// a hard cut that would land mid-rune without a boundary guard.
	content := strings.Repeat("海纳百川有容乃大", 200)
	doc := rag.Document{ID: "cjk", Name: "cjk.txt", Content: content}

	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text), "chunk %d must be valid UTF-8", i)
		assert.Equal(t, content[ch.Start:ch.End], ch.Text)
		assert.LessOrEqual(t, ch.End-ch.Start, 1000)
		if i > 0 {
			assert.Greater(t, ch.Start, chunks[i-1].Start)
		}
	}
	assert.Equal(t, len(content), chunks[len(chunks)-1].End)
}
