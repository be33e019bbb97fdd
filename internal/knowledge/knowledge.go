// Package knowledge is the read-side contract over the document index:
// chunks of indexed text searchable by vector similarity, each carrying
// the provenance needed to cite it.
package knowledge

import "time"

// VectorDimension is the embedding size stored in the chunks table.
// Gemini embeddings are truncated to this via OutputDimensionality.
const VectorDimension int32 = 768

// Chunk is one indexed unit of text. Similarity is relative to the query
// that retrieved it; zero value elsewhere. Chunks are never mutated after
// retrieval.
type Chunk struct {
	ID         string
	SourceRef  string
	Content    string
	Metadata   map[string]string
	Similarity float64
	CreatedAt  time.Time
}
