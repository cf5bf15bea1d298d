package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/logger"
)

// Store is the remote vector-index backend for deployments where the
// chunk set outgrows one process. It covers Add/Rebuild/Search; file
// persistence stays with the in-memory index, Milvus owns its own
// durability.
type Store struct {
	client     client.Client
	collection string
	dim        int
}

func NewStore(ctx context.Context, endpoint, collection string, dim int) (*Store, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create milvus client: %w", err)
	}

	logger.Info("Milvus store initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collection),
	)

	s := &Store{client: c, collection: collection, dim: dim}
	if err := s.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ensureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.dim),
				},
			},
			{
				Name:       "doc_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "doc_name",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "ordinal",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
		},
	}

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("build index spec: %w", err)
	}
	if err := s.client.CreateIndex(ctx, s.collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}

	logger.Info("Milvus collection created", zap.String("collection", s.collection))
	return nil
}

func (s *Store) Add(ctx context.Context, entries []rag.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(entries))
	vectors := make([][]float32, len(entries))
	docIDs := make([]string, len(entries))
	docNames := make([]string, len(entries))
	ordinals := make([]int64, len(entries))
	texts := make([]string, len(entries))

	for i, e := range entries {
		if len(e.Vector) != s.dim {
			return fmt.Errorf("%w: entry %s has dim %d, collection has %d",
				rag.ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), s.dim)
		}
		chunkIDs[i] = e.Chunk.ID
		vectors[i] = e.Vector
		docIDs[i] = e.Chunk.DocID
		docNames[i] = e.Chunk.DocName
		ordinals[i] = int64(e.Chunk.Ordinal)
		texts[i] = e.Chunk.Text
	}

	_, err := s.client.Insert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", s.dim, vectors),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnVarChar("doc_name", docNames),
		entity.NewColumnInt64("ordinal", ordinals),
		entity.NewColumnVarChar("text", texts),
	)
	if err != nil {
		return fmt.Errorf("insert entries: %w", err)
	}

	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	logger.Info("Entries inserted into milvus", zap.Int("count", len(entries)))
	return nil
}

// Rebuild drops and recreates the collection, then inserts the new
// entry set. Remote searches during the gap see either generation,
// consistency across the drop window is Milvus's, not ours.
func (s *Store) Rebuild(ctx context.Context, entries []rag.Entry) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if has {
		if err := s.client.DropCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	return s.Add(ctx, entries)
}

func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]rag.Scored, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := s.client.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{"chunk_id", "doc_id", "doc_name", "ordinal", "text"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var results []rag.Scored
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		docIDCol := sr.Fields.GetColumn("doc_id")
		docNameCol := sr.Fields.GetColumn("doc_name")
		ordinalCol := sr.Fields.GetColumn("ordinal")
		textCol := sr.Fields.GetColumn("text")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			docID, _ := docIDCol.Get(i)
			docName, _ := docNameCol.Get(i)
			ordinal, _ := ordinalCol.Get(i)
			text, _ := textCol.Get(i)

			results = append(results, rag.Scored{
				Chunk: rag.Chunk{
					ID:      chunkID.(string),
					DocID:   docID.(string),
					DocName: docName.(string),
					Ordinal: int(ordinal.(int64)),
					Text:    text.(string),
				},
				Score: sr.Scores[i],
			})
		}
	}

	return results, nil
}
