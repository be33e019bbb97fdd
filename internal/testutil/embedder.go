package testutil

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockVectorDim matches the dimensionality of the chunks table.
const MockVectorDim = 768

// MockEmbedder implements ai.Embedder with deterministic vectors derived
// from the input text, so similarity searches behave consistently without
// a real embedding backend. Identical texts embed identically; texts
// sharing words land nearer each other than unrelated texts.
type MockEmbedder struct {
	Err       error // returned instead of embeddings when set
	CallCount int
}

// Name implements ai.Embedder.
func (m *MockEmbedder) Name() string { return "mock/deterministic-embedder" }

// Register implements ai.Embedder. No-op for tests.
func (m *MockEmbedder) Register(api.Registry) {}

// Embed returns one deterministic unit vector per input document.
func (m *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.CallCount++
	if m.Err != nil {
		return nil, m.Err
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: DeterministicVector(text),
		})
	}
	return resp, nil
}

// DeterministicVector hashes text into a normalized MockVectorDim-wide
// vector. Each word contributes to a handful of components so overlapping
// texts produce nearby vectors.
func DeterministicVector(text string) []float32 {
	vec := make([]float32, MockVectorDim)

	word := make([]byte, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv.New64a()
		_, _ = h.Write(word)
		sum := h.Sum64()
		for i := 0; i < 4; i++ {
			idx := int((sum>>(i*16))&0xffff) % MockVectorDim
			vec[idx] += 1.0
		}
		word = word[:0]
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '?', '.', ',':
			flush()
		default:
			word = append(word, text[i])
		}
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1.0
		return vec
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
