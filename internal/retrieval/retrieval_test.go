package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/askgate/askgate/internal/knowledge"
	"github.com/askgate/askgate/internal/log"
)

type stubSearcher struct {
	chunks []knowledge.Chunk
	err    error
	calls  int
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ map[string]string, _ int) ([]knowledge.Chunk, error) {
	s.calls++
	return s.chunks, s.err
}

func newRetriever(t *testing.T, searcher Searcher) *Retriever {
	t.Helper()

	r, err := New(searcher, Options{
		TopK:          3,
		MinSimilarity: 0.35,
		Timeout:       time.Second,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRetrieve_DropsBelowThreshold(t *testing.T) {
	searcher := &stubSearcher{chunks: []knowledge.Chunk{
		{ID: "a", Similarity: 0.9},
		{ID: "b", Similarity: 0.5},
		{ID: "c", Similarity: 0.2},
	}}
	r := newRetriever(t, searcher)

	chunks, err := r.Retrieve(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Retrieve() returned %d chunks, want 2", len(chunks))
	}
	for _, c := range chunks {
		if c.Similarity < 0.35 {
			t.Errorf("chunk %s below threshold: %f", c.ID, c.Similarity)
		}
	}
}

func TestRetrieve_EmptyIsNotAnError(t *testing.T) {
	r := newRetriever(t, &stubSearcher{chunks: []knowledge.Chunk{
		{ID: "a", Similarity: 0.1},
	}})

	chunks, err := r.Retrieve(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want nil for empty result", err)
	}
	if chunks == nil || len(chunks) != 0 {
		t.Errorf("Retrieve() = %v, want empty non-nil slice", chunks)
	}
}

func TestRetrieve_BackendErrorIsUnavailable(t *testing.T) {
	r := newRetriever(t, &stubSearcher{err: errors.New("connection refused")})

	_, err := r.Retrieve(context.Background(), "question", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Retrieve() error = %v, want ErrUnavailable", err)
	}
}

func TestRetrieve_DeterministicOrdering(t *testing.T) {
	// Backend returns a scrambled order with a similarity tie.
	searcher := &stubSearcher{chunks: []knowledge.Chunk{
		{ID: "c", Similarity: 0.7},
		{ID: "a", Similarity: 0.9},
		{ID: "b", Similarity: 0.7},
	}}
	r := newRetriever(t, searcher)

	want := []string{"a", "b", "c"}
	for run := 0; run < 2; run++ {
		chunks, err := r.Retrieve(context.Background(), "question", nil)
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		for i, c := range chunks {
			if c.ID != want[i] {
				t.Errorf("run %d position %d = %s, want %s", run, i, c.ID, want[i])
			}
		}
	}
}

func TestRetrieve_Timeout(t *testing.T) {
	slow := searcherFunc(func(ctx context.Context, _ string, _ map[string]string, _ int) ([]knowledge.Chunk, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	r, err := New(slow, Options{
		TopK:          3,
		MinSimilarity: 0.35,
		Timeout:       20 * time.Millisecond,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = r.Retrieve(context.Background(), "question", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Retrieve() error = %v, want ErrUnavailable on timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Retrieve() error = %v, want wrapped DeadlineExceeded", err)
	}
}

type searcherFunc func(ctx context.Context, query string, filters map[string]string, topK int) ([]knowledge.Chunk, error)

func (f searcherFunc) Search(ctx context.Context, query string, filters map[string]string, topK int) ([]knowledge.Chunk, error) {
	return f(ctx, query, filters, topK)
}

func TestNew_Validation(t *testing.T) {
	searcher := &stubSearcher{}

	tests := []struct {
		name string
		opts Options
	}{
		{"zero top-k", Options{TopK: 0, MinSimilarity: 0.5, Timeout: time.Second}},
		{"negative similarity", Options{TopK: 3, MinSimilarity: -0.1, Timeout: time.Second}},
		{"similarity above one", Options{TopK: 3, MinSimilarity: 1.1, Timeout: time.Second}},
		{"zero timeout", Options{TopK: 3, MinSimilarity: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(searcher, tt.opts, nil); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}

	if _, err := New(nil, Options{TopK: 3, MinSimilarity: 0.5, Timeout: time.Second}, nil); err == nil {
		t.Error("New(nil searcher) error = nil, want error")
	}
}
