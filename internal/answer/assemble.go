// Package answer turns a question, its retrieved context, and the
// generator's output into a response with citations. The grounded flag is
// load-bearing: consumers must be able to tell an answer backed by N
// sources from a guess.
package answer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/askgate/askgate/internal/knowledge"
)

// Fallback policies for when the generator's output references no chunk.
// FallbackNone treats the answer as ungrounded; FallbackAll assumes every
// retrieved chunk was used. There is no heuristic middle ground.
const (
	FallbackNone = "none"
	FallbackAll  = "all"
)

// maxExcerptRunes bounds citation excerpts in responses.
const maxExcerptRunes = 240

// Citation pairs a source reference with the excerpt that grounds it.
type Citation struct {
	SourceRef string `json:"source_ref"`
	Excerpt   string `json:"excerpt"`
}

// Response is the assembled answer. Grounded is true exactly when at
// least one citation is attached.
type Response struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Grounded  bool       `json:"grounded"`
}

// Assembler builds responses from generator results.
type Assembler struct {
	fallback string
	logger   *slog.Logger
}

// NewAssembler creates an Assembler with the given fallback policy.
func NewAssembler(fallback string, logger *slog.Logger) (*Assembler, error) {
	if fallback != FallbackNone && fallback != FallbackAll {
		return nil, fmt.Errorf("unknown citation fallback policy %q", fallback)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{fallback: fallback, logger: logger}, nil
}

// Assemble pairs each chunk the generator cited with a Citation. When
// the generator cited nothing and chunks were retrieved, the fallback
// policy decides: none leaves the answer ungrounded, all cites every
// retrieved chunk.
func (a *Assembler) Assemble(chunks []knowledge.Chunk, result *Result) Response {
	used := result.UsedChunkIDs
	if len(used) == 0 && len(chunks) > 0 && a.fallback == FallbackAll {
		used = make([]string, len(chunks))
		for i, c := range chunks {
			used[i] = c.ID
		}
		a.logger.Debug("generator cited no chunks, falling back to all",
			"chunks", len(chunks))
	}

	byID := make(map[string]knowledge.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	citations := make([]Citation, 0, len(used))
	seen := make(map[string]bool, len(used))
	for _, id := range used {
		c, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		citations = append(citations, Citation{
			SourceRef: c.SourceRef,
			Excerpt:   excerpt(c.Content),
		})
	}

	return Response{
		Answer:    result.Text,
		Citations: citations,
		Grounded:  len(citations) > 0,
	}
}

// excerpt truncates content to a citation-sized snippet.
func excerpt(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= maxExcerptRunes {
		return content
	}
	return string(runes[:maxExcerptRunes]) + "..."
}
