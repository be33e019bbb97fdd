package answer

import (
	"strings"
	"testing"

	"github.com/askgate/askgate/internal/knowledge"
	"github.com/askgate/askgate/internal/log"
)

func testChunks() []knowledge.Chunk {
	return []knowledge.Chunk{
		{ID: "chunk-1", SourceRef: "docs/refund-policy.md", Content: "Refunds are issued within 14 days."},
		{ID: "chunk-2", SourceRef: "docs/shipping.md", Content: "Standard shipping takes 3-5 business days."},
	}
}

func newAssembler(t *testing.T, fallback string) *Assembler {
	t.Helper()
	a, err := NewAssembler(fallback, log.NewNop())
	if err != nil {
		t.Fatalf("NewAssembler(%q) error = %v", fallback, err)
	}
	return a
}

func TestAssemble_GroundedAnswer(t *testing.T) {
	a := newAssembler(t, FallbackNone)

	resp := a.Assemble(testChunks(), &Result{
		Text:         "Refunds are issued within 14 days [1]. Shipping takes 3-5 days [2].",
		UsedChunkIDs: []string{"chunk-1", "chunk-2"},
	})

	if !resp.Grounded {
		t.Error("Grounded = false, want true")
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(resp.Citations))
	}
	if resp.Citations[0].SourceRef != "docs/refund-policy.md" {
		t.Errorf("citation[0].SourceRef = %q, want docs/refund-policy.md", resp.Citations[0].SourceRef)
	}
	if resp.Citations[1].SourceRef != "docs/shipping.md" {
		t.Errorf("citation[1].SourceRef = %q, want docs/shipping.md", resp.Citations[1].SourceRef)
	}
}

func TestAssemble_NoChunksIsUngrounded(t *testing.T) {
	a := newAssembler(t, FallbackNone)

	resp := a.Assemble(nil, &Result{Text: "I don't know."})

	if resp.Grounded {
		t.Error("Grounded = true, want false with no chunks")
	}
	if len(resp.Citations) != 0 {
		t.Errorf("citations = %d, want 0", len(resp.Citations))
	}
}

func TestAssemble_FallbackPolicies(t *testing.T) {
	// Generator cited nothing although chunks were retrieved.
	result := &Result{Text: "Refunds take about two weeks."}

	t.Run("none", func(t *testing.T) {
		resp := newAssembler(t, FallbackNone).Assemble(testChunks(), result)
		if resp.Grounded {
			t.Error("Grounded = true, want false under none policy")
		}
		if len(resp.Citations) != 0 {
			t.Errorf("citations = %d, want 0", len(resp.Citations))
		}
	})

	t.Run("all", func(t *testing.T) {
		resp := newAssembler(t, FallbackAll).Assemble(testChunks(), result)
		if !resp.Grounded {
			t.Error("Grounded = false, want true under all policy")
		}
		if len(resp.Citations) != 2 {
			t.Errorf("citations = %d, want 2", len(resp.Citations))
		}
	})
}

func TestAssemble_DropsUnknownAndDuplicateIDs(t *testing.T) {
	a := newAssembler(t, FallbackNone)

	resp := a.Assemble(testChunks(), &Result{
		Text:         "Refunds are issued within 14 days [1][1].",
		UsedChunkIDs: []string{"chunk-1", "chunk-1", "no-such-chunk"},
	})

	if len(resp.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(resp.Citations))
	}
}

func TestNewAssembler_UnknownPolicy(t *testing.T) {
	if _, err := NewAssembler("guess", nil); err == nil {
		t.Error("NewAssembler(guess) error = nil, want error")
	}
}

func TestExcerpt_Truncation(t *testing.T) {
	long := strings.Repeat("あ", 300)
	got := excerpt(long)
	if want := strings.Repeat("あ", maxExcerptRunes) + "..."; got != want {
		t.Errorf("excerpt() length = %d runes, want %d plus ellipsis",
			len([]rune(got)), maxExcerptRunes)
	}
}

func TestCitedChunkIDs(t *testing.T) {
	chunks := testChunks()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"both cited", "A [1] and B [2].", []string{"chunk-1", "chunk-2"}},
		{"one cited", "Only B matters [2].", []string{"chunk-2"}},
		{"none cited", "No references here.", nil},
		{"out of range", "Bogus [3] and [0].", nil},
		{"duplicates collapse", "A [1], again [1].", []string{"chunk-1"}},
		{"order follows chunks", "B [2] then A [1].", []string{"chunk-1", "chunk-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := citedChunkIDs(tt.text, chunks)
			if len(got) != len(tt.want) {
				t.Fatalf("citedChunkIDs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("citedChunkIDs()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFormatContext(t *testing.T) {
	got := formatContext(testChunks())
	if !strings.Contains(got, "[1] Refunds are issued within 14 days.") {
		t.Errorf("formatContext() missing first passage: %q", got)
	}
	if !strings.Contains(got, "[2] Standard shipping takes 3-5 business days.") {
		t.Errorf("formatContext() missing second passage: %q", got)
	}

	empty := formatContext(nil)
	if !strings.Contains(empty, "no passages") {
		t.Errorf("formatContext(nil) = %q, want no-passages marker", empty)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"googleapi: Error 429: rate limit exceeded", true},
		{"rpc error: code = Unavailable desc = service unavailable", true},
		{"read tcp: connection reset by peer", true},
		{"googleapi: Error 400: invalid request", false},
		{"model not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			if got := retryableError(errStr(tt.err)); got != tt.want {
				t.Errorf("retryableError(%q) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type errStr string

func (e errStr) Error() string { return string(e) }
