package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/utils"
)

// Chunker splits extracted document text into overlapping segments
// sized for embedding. Splits prefer paragraph breaks, then sentence
// ends, falling back to a hard character cut when no boundary exists
// inside the tolerance window. Identical input and config always yield
// the identical chunk sequence.
type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, &rag.ConfigError{Field: "chunkSize", Reason: "must be positive"}
	}
	if overlap < 0 {
		return nil, &rag.ConfigError{Field: "chunkOverlap", Reason: "must not be negative"}
	}
	if overlap >= size {
		return nil, &rag.ConfigError{Field: "chunkOverlap", Reason: "must be smaller than chunkSize"}
	}

	tolerance := size / 5
	if tolerance < 1 {
		tolerance = 1
	}

	return &Chunker{
		size:      size,
		overlap:   overlap,
		tolerance: tolerance,
	}, nil
}

// Split produces the ordered chunk sequence for one document. Empty or
// whitespace-only content yields zero chunks and no error.
func (c *Chunker) Split(doc rag.Document) ([]rag.Chunk, error) {
	text := doc.Content
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var chunks []rag.Chunk
	start := 0
	ordinal := 0

	for start < len(text) {
		end := c.cut(text, start)

		segment := text[start:end]
		if strings.TrimSpace(segment) != "" {
			chunks = append(chunks, rag.Chunk{
				ID:      fmt.Sprintf("%s_chunk_%d", doc.ID, ordinal),
				DocID:   doc.ID,
				DocName: doc.Name,
				Ordinal: ordinal,
				Start:   start,
				End:     end,
				Text:    segment,
			})
			ordinal++
		}

		if end >= len(text) {
			break
		}

		// The overlap tail is re-included verbatim at the head of the
		// next chunk. The rewind must land on a rune boundary so every
		// chunk stays valid UTF-8.
		next := utils.RuneBoundary(text, end-c.overlap)
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

// cut returns the end offset of the chunk starting at start. The best
// boundary inside [limit-tolerance, limit] wins: paragraph break first,
// then sentence end, then the hard limit itself.
func (c *Chunker) cut(text string, start int) int {
	limit := start + c.size
	if limit >= len(text) {
		return len(text)
	}

	// The hard limit must not split a multibyte rune. When backing up
	// would consume the whole chunk, take one full rune instead so the
	// scan always advances.
	limit = utils.RuneBoundary(text, limit)
	if limit <= start {
		_, n := utf8.DecodeRuneInString(text[start:])
		return start + n
	}

	windowStart := limit - c.tolerance
	if windowStart < start {
		windowStart = start
	}
	windowStart = utils.RuneBoundary(text, windowStart)
	window := text[windowStart:limit]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return windowStart + i + 2
	}

	if end, ok := lastSentenceEnd(window); ok {
		return windowStart + end
	}

	return limit
}

// lastSentenceEnd finds the end offset of the last complete sentence in
// window, using the prose segmenter. It needs at least two sentences:
// the final one is presumed truncated by the window edge.
func lastSentenceEnd(window string) (int, bool) {
	doc, err := prose.NewDocument(window,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return 0, false
	}

	sentences := doc.Sentences()
	if len(sentences) < 2 {
		return 0, false
	}

	// Sentence texts are trimmed copies of the input; walk the window
	// to recover the byte offset where the penultimate sentence ends.
	pos := 0
	for _, s := range sentences[:len(sentences)-1] {
		i := strings.Index(window[pos:], s.Text)
		if i < 0 {
			return 0, false
		}
		pos += i + len(s.Text)
	}

	if pos == 0 {
		return 0, false
	}
	return pos, true
}
