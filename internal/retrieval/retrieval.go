// Package retrieval turns a question into the ranked context chunks the
// answer layer cites. It separates "nothing relevant found" (a valid,
// empty result) from "index unreachable" (an error).
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/askgate/askgate/internal/knowledge"
)

// ErrUnavailable indicates the knowledge index could not be queried.
// Distinct from an empty result, which is not an error.
var ErrUnavailable = errors.New("knowledge index unavailable")

// Searcher is the index read surface the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, filters map[string]string, topK int) ([]knowledge.Chunk, error)
}

// Retriever fetches the top-K most relevant chunks for a question.
type Retriever struct {
	searcher      Searcher
	topK          int
	minSimilarity float64
	timeout       time.Duration
	logger        *slog.Logger
}

// Options tune retrieval behavior.
type Options struct {
	TopK          int
	MinSimilarity float64
	Timeout       time.Duration
}

// New creates a Retriever over searcher.
func New(searcher Searcher, opts Options, logger *slog.Logger) (*Retriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("top-k must be positive")
	}
	if opts.MinSimilarity < 0 || opts.MinSimilarity > 1 {
		return nil, fmt.Errorf("min similarity must be in [0, 1]")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:      searcher,
		topK:          opts.TopK,
		minSimilarity: opts.MinSimilarity,
		timeout:       opts.Timeout,
		logger:        logger,
	}, nil
}

// Retrieve returns up to the configured K chunks for question, sorted by
// descending similarity with chunk ID as the tiebreak, so identical
// inputs against an unchanged index yield identical ordered results.
// Chunks below the similarity floor are dropped; an all-dropped result is
// an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, filters map[string]string) ([]knowledge.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	chunks, err := r.searcher.Search(ctx, question, filters, r.topK)
	if err != nil {
		r.logger.Error("retrieval failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	kept := chunks[:0:0]
	for _, c := range chunks {
		if c.Similarity >= r.minSimilarity {
			kept = append(kept, c)
		}
	}

	slices.SortStableFunc(kept, func(a, b knowledge.Chunk) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if kept == nil {
		kept = []knowledge.Chunk{}
	}
	r.logger.Debug("retrieval complete",
		"retrieved", len(chunks), "kept", len(kept))
	return kept, nil
}
