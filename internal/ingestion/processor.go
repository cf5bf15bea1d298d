package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/chunker"
	"github.com/intellidocs/backend/internal/metrics"
	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/internal/storage/models"
	"github.com/intellidocs/backend/internal/storage/sqlite"
	"github.com/intellidocs/backend/pkg/logger"
)

// Embedder is the slice of the embedding client ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the write side of the vector index. Both the in-memory
// index and the milvus store satisfy it.
type Store interface {
	Add(ctx context.Context, entries []rag.Entry) error
	Rebuild(ctx context.Context, entries []rag.Entry) error
}

// Invalidator drops cached answers after the corpus changes. A nil
// Invalidator is a no-op.
type Invalidator interface {
	InvalidateAnswers(ctx context.Context) error
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// Processor runs the ingestion pipeline: extract text, chunk, embed,
// and store. Chunk metadata and raw text land in SQLite so the vector
// index can always be rebuilt from what is on disk.
type Processor struct {
	db       *sqlite.Client
	store    Store
	embedder Embedder
	chunker  *chunker.Chunker
	cache    Invalidator
}

func NewProcessor(db *sqlite.Client, store Store, embedder Embedder, ch *chunker.Chunker) *Processor {
	return &Processor{
		db:       db,
		store:    store,
		embedder: embedder,
		chunker:  ch,
	}
}

// WithInvalidator attaches answer-cache invalidation.
func (p *Processor) WithInvalidator(inv Invalidator) *Processor {
	p.cache = inv
	return p
}

// Ingest adds one document to the corpus. HTML content is stripped to
// text first; everything else is treated as plain text. The returned
// document carries the assigned ID and chunk count.
func (p *Processor) Ingest(ctx context.Context, name, content, contentType string) (*models.Document, error) {
	text := content
	if isHTML(contentType, name) {
		text = cleanHTML(content)
	}
	text = normalizeText(text)

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document %q has no extractable text", rag.ErrInvalidArgument, name)
	}

	doc := rag.Document{
		ID:         uuid.New().String(),
		Name:       name,
		Content:    text,
		UploadedAt: time.Now(),
	}

	chunks, err := p.chunker.Split(doc)
	if err != nil {
		return nil, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document %q produced no chunks", rag.ErrInvalidArgument, name)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed document %s: %w", doc.ID, err)
	}

	entries := make([]rag.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = rag.Entry{Chunk: ch, Vector: vectors[i]}
	}

	if err := p.db.InsertDocument(doc, chunks); err != nil {
		return nil, fmt.Errorf("store document %s: %w", doc.ID, err)
	}

	if err := p.store.Add(ctx, entries); err != nil {
		// Roll the stored rows back: SQLite must never list a document
		// the index has no entries for.
		if derr := p.db.DeleteDocument(doc.ID); derr != nil {
			logger.Warn("Failed to remove document after index failure",
				zap.String("doc_id", doc.ID),
				zap.Error(derr),
			)
		}
		return nil, fmt.Errorf("index document %s: %w", doc.ID, err)
	}

	p.invalidate(ctx)

	metrics.DocumentsIndexed.Inc()
	metrics.ChunksIndexed.Add(float64(len(chunks)))
	p.observeIndexSize()

	logger.Info("Document ingested",
		zap.String("doc_id", doc.ID),
		zap.String("name", name),
		zap.Int("chunks", len(chunks)),
	)

	return &models.Document{
		ID:         doc.ID,
		Name:       doc.Name,
		ChunkCount: len(chunks),
		UploadedAt: doc.UploadedAt,
	}, nil
}

// Reindex re-embeds every stored chunk and atomically replaces the
// vector index. Queries running concurrently see either the old or the
// new index, never a mix.
func (p *Processor) Reindex(ctx context.Context) (int, error) {
	chunks, err := p.db.AllChunks()
	if err != nil {
		return 0, fmt.Errorf("load chunks for reindex: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks for reindex: %w", err)
	}

	entries := make([]rag.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = rag.Entry{Chunk: ch, Vector: vectors[i]}
	}

	if err := p.store.Rebuild(ctx, entries); err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}

	p.invalidate(ctx)
	p.observeIndexSize()

	logger.Info("Index rebuilt", zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Delete removes a document and rebuilds the index without it. The
// brute-force index has no per-entry delete, so removal is a rebuild.
func (p *Processor) Delete(ctx context.Context, docID string) error {
	if err := p.db.DeleteDocument(docID); err != nil {
		return err
	}

	if _, err := p.Reindex(ctx); err != nil {
		return fmt.Errorf("reindex after delete: %w", err)
	}

	logger.Info("Document deleted", zap.String("doc_id", docID))
	return nil
}

func (p *Processor) invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateAnswers(ctx); err != nil {
		logger.Warn("Failed to invalidate answer cache", zap.Error(err))
	}
}

func (p *Processor) observeIndexSize() {
	stats, err := p.db.Stats()
	if err != nil {
		return
	}
	metrics.IndexSize.Set(float64(stats.Chunks))
}

func isHTML(contentType, name string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	var b strings.Builder
	doc.Find("body").Find("p, h1, h2, h3, h4, h5, h6, li, td, pre").Each(func(i int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	})

	if b.Len() == 0 {
		return strings.TrimSpace(doc.Find("body").Text())
	}
	return strings.TrimSpace(b.String())
}

// normalizeText collapses runs of spaces and tabs while keeping
// newlines, which the chunker uses as paragraph boundaries.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return whitespaceRe.ReplaceAllString(text, " ")
}
