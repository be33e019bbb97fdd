package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// EmbedTimeout bounds a single embedding call.
const EmbedTimeout = 10 * time.Second

// MaxQueryLen truncates pathological query strings before embedding.
const MaxQueryLen = 4096

// chunkCols is the SELECT column list for scanChunks, without similarity.
const chunkCols = `id, source_ref, content, metadata, created_at`

// Store manages the chunk index backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a chunk Store.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Search returns up to topK chunks most similar to query, ordered by
// cosine similarity descending with chunk ID as the tiebreak, so results
// are deterministic for identical inputs against an unchanged index.
// Filters, when non-empty, restrict results to chunks whose metadata
// contains every given key/value pair.
func (s *Store) Search(ctx context.Context, query string, filters map[string]string, topK int) ([]Chunk, error) {
	if query == "" || topK <= 0 {
		return []Chunk{}, nil
	}
	if len(query) > MaxQueryLen {
		query = query[:MaxQueryLen]
	}
	if strings.ContainsRune(query, 0) {
		return []Chunk{}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	sql := `SELECT ` + chunkCols + `, 1 - (embedding <=> $1) AS similarity
		 FROM chunks`
	args := []any{vec}

	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata filters: %w", err)
		}
		sql += ` WHERE metadata @> $2::jsonb`
		args = append(args, filterJSON)
	}

	sql += fmt.Sprintf(` ORDER BY embedding <=> $1, id LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// Add inserts a chunk with its embedding. Used by ingestion tooling and
// integration tests; the query path never writes.
func (s *Store) Add(ctx context.Context, sourceRef, content string, metadata map[string]string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("content is required")
	}
	if sourceRef == "" {
		return "", fmt.Errorf("source ref is required")
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, content)
	if err != nil {
		return "", fmt.Errorf("embedding chunk: %w", err)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding chunk metadata: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO chunks (source_ref, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		sourceRef, content, vec, metaJSON,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("inserting chunk: %w", err)
	}

	s.logger.Debug("chunk indexed", "chunk_id", id, "source_ref", sourceRef)
	return id, nil
}

// Count returns the number of indexed chunks. Used by the readiness probe.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// scanChunks reads chunk rows that include the similarity column.
func scanChunks(rows pgx.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metaJSON []byte
		err := rows.Scan(&c.ID, &c.SourceRef, &c.Content, &metaJSON,
			&c.CreatedAt, &c.Similarity)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
				return nil, fmt.Errorf("decoding chunk metadata: %w", err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	if chunks == nil {
		chunks = []Chunk{}
	}
	return chunks, nil
}
