package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/storage/models"
	"github.com/intellidocs/backend/pkg/logger"
)

// ErrNotFound reports a lookup or delete for a document that is not in
// the store. Match it with errors.Is.
var ErrNotFound = errors.New("document not found")

// Client is the document store: raw document text, chunk metadata,
// and query history. Vectors never land here, they belong to the
// index.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		uploaded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(uploaded_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id, ordinal);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT,
		confidence REAL,
		not_found INTEGER DEFAULT 0,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_citations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		document TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		snippet TEXT,
		score REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_query ON query_citations(query_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertDocument stores a document and its chunks in one transaction.
// Re-ingesting the same ID replaces the previous chunk set.
func (c *Client) InsertDocument(doc rag.Document, chunks []rag.Chunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO documents (id, name, content, uploaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			uploaded_at = excluded.uploaded_at
	`, doc.ID, doc.Name, doc.Content, doc.UploadedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM document_chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear old chunks: %w", err)
	}

	now := time.Now().Unix()
	for _, chunk := range chunks {
		_, err := tx.Exec(`
			INSERT INTO document_chunks (id, doc_id, ordinal, start_offset, end_offset, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, chunk.ID, chunk.DocID, chunk.Ordinal, chunk.Start, chunk.End, chunk.Text, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document stored",
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	var doc models.Document
	var uploadedAt int64

	err := c.db.QueryRow(`
		SELECT d.id, d.name, d.content, d.uploaded_at,
			(SELECT COUNT(*) FROM document_chunks ch WHERE ch.doc_id = d.id)
		FROM documents d WHERE d.id = ?
	`, id).Scan(&doc.ID, &doc.Name, &doc.Content, &uploadedAt, &doc.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.UploadedAt = time.Unix(uploadedAt, 0)
	return &doc, nil
}

func (c *Client) ListDocuments() ([]models.Document, error) {
	rows, err := c.db.Query(`
		SELECT d.id, d.name, d.uploaded_at,
			(SELECT COUNT(*) FROM document_chunks ch WHERE ch.doc_id = d.id)
		FROM documents d ORDER BY d.uploaded_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		var uploadedAt int64
		if err := rows.Scan(&d.ID, &d.Name, &uploadedAt, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		d.UploadedAt = time.Unix(uploadedAt, 0)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (c *Client) DeleteDocument(id string) error {
	res, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// AllChunks returns every stored chunk in document/ordinal order, the
// input for a full index rebuild.
func (c *Client) AllChunks() ([]rag.Chunk, error) {
	rows, err := c.db.Query(`
		SELECT ch.id, ch.doc_id, d.name, ch.ordinal, ch.start_offset, ch.end_offset, ch.text
		FROM document_chunks ch
		JOIN documents d ON d.id = ch.doc_id
		ORDER BY d.uploaded_at, ch.doc_id, ch.ordinal
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []rag.Chunk
	for rows.Next() {
		var ch rag.Chunk
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.DocName, &ch.Ordinal, &ch.Start, &ch.End, &ch.Text); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord, citations []rag.Citation) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	notFound := 0
	if record.NotFound {
		notFound = 1
	}

	_, err = tx.Exec(`
		INSERT INTO query_history (id, question, answer, confidence, not_found,
			prompt_tokens, completion_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Question, record.Answer, record.Confidence, notFound,
		record.PromptTokens, record.CompletionTokens, record.LatencyMS, record.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, cit := range citations {
		_, err := tx.Exec(`
			INSERT INTO query_citations (query_id, document, ordinal, snippet, score)
			VALUES (?, ?, ?, ?, ?)
		`, record.ID, cit.Document, cit.Ordinal, cit.Snippet, cit.Score)
		if err != nil {
			return fmt.Errorf("failed to insert citation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Float64("confidence", record.Confidence),
	)
	return nil
}

func (c *Client) GetQueryHistory(limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.Query(`
		SELECT id, question, answer, confidence, not_found, prompt_tokens,
			completion_tokens, latency_ms, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64
		var notFound int

		err := rows.Scan(&r.ID, &r.Question, &r.Answer, &r.Confidence, &notFound,
			&r.PromptTokens, &r.CompletionTokens, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.NotFound = notFound != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *Client) Stats() (*models.CollectionStats, error) {
	var stats models.CollectionStats

	if err := c.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM document_chunks`).Scan(&stats.Chunks); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM query_history`).Scan(&stats.Queries); err != nil {
		return nil, fmt.Errorf("failed to count queries: %w", err)
	}

	return &stats, nil
}
