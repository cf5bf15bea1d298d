package rag

import "time"

// Document is the unit of ingestion: extracted text plus identity.
// Binary parsing happens upstream; the pipeline only ever sees text.
type Document struct {
	ID         string
	Name       string
	Content    string
	UploadedAt time.Time
}

// Chunk is a bounded segment of a document, the unit of embedding
// and retrieval. Start/End are byte offsets into the source content.
type Chunk struct {
	ID      string
	DocID   string
	DocName string
	Ordinal int
	Start   int
	End     int
	Text    string
}

// Entry pairs a chunk with its embedding vector inside the index.
type Entry struct {
	Chunk  Chunk
	Vector []float32
}

// Scored is a retrieval hit: a chunk with its similarity score.
type Scored struct {
	Chunk Chunk
	Score float32
}

// Citation links an answer back to a chunk that supported it.
type Citation struct {
	Document string  `json:"document"`
	Ordinal  int     `json:"ordinal"`
	Snippet  string  `json:"snippet"`
	Score    float32 `json:"score"`
}

// Context is the assembled prompt context for one question.
// An empty Context (no text, no citations) is the explicit
// "no context available" sentinel.
type Context struct {
	Text      string
	Citations []Citation
	Tokens    int
	Truncated bool
}

// Empty reports whether this is the no-context sentinel.
func (c Context) Empty() bool {
	return c.Text == "" && len(c.Citations) == 0
}

// Usage carries token accounting from the generation service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// QAResult is the final product of one question/answer round.
type QAResult struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	NotFound   bool       `json:"not_found"`
	Usage      Usage      `json:"usage"`
	LatencyMS  int        `json:"latency_ms"`
}
