package models

import "time"

// Document is the stored form of an ingested document. The raw
// extracted text is kept so the index can be rebuilt without
// re-uploading.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Content    string    `json:"-"`
	ChunkCount int       `json:"chunk_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DocumentChunk is chunk metadata persisted alongside the document.
// Embeddings live in the vector index, not here.
type DocumentChunk struct {
	ID        string
	DocID     string
	Ordinal   int
	Start     int
	End       int
	Text      string
	CreatedAt time.Time
}

// QueryRecord is one answered question in the history.
type QueryRecord struct {
	ID               string    `json:"id"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	Confidence       float64   `json:"confidence"`
	NotFound         bool      `json:"not_found"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LatencyMS        int       `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// QueryCitation is one provenance link recorded for a history entry.
type QueryCitation struct {
	ID       int
	QueryID  string
	Document string
	Ordinal  int
	Snippet  string
	Score    float64
}

// CollectionStats summarizes the indexed corpus.
type CollectionStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Queries   int `json:"queries"`
}
