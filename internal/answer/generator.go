package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/askgate/askgate/internal/knowledge"
)

// ErrUnavailable indicates the generator backend failed or timed out.
// Callers surface it as a retryable service-unavailable condition.
var ErrUnavailable = errors.New("answer generator unavailable")

// Result is the generator's output: the answer text plus the IDs of the
// context chunks the text actually cites.
type Result struct {
	Text         string
	UsedChunkIDs []string
}

// Generator produces an answer for a question given retrieved context.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []knowledge.Chunk) (*Result, error)
}

// answerPrompt instructs the model to cite passages by number so the
// assembler can tell which chunks ground the answer. Passages are
// numbered from 1 in the order given.
const answerPrompt = `You are a support assistant answering from a knowledge base.
Answer the question using only the numbered context passages below.
Cite every passage you draw on with its number in brackets, like [1].
If the passages do not contain the answer, say you don't know and cite nothing.

%s
Question: %s`

// RetryConfig configures retry behavior for generation calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// GenkitGenerator calls a Gemini model through genkit.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
	timeout   time.Duration
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewGenkitGenerator creates a generator for modelName. Each call is
// bounded by timeout; transient backend failures are retried with
// exponential backoff, and the limiter paces attempts against provider
// quotas.
func NewGenkitGenerator(g *genkit.Genkit, modelName string, timeout time.Duration, logger *slog.Logger) (*GenkitGenerator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitGenerator{
		g:         g,
		modelName: modelName,
		timeout:   timeout,
		retry:     DefaultRetryConfig(),
		limiter:   rate.NewLimiter(10, 30),
		logger:    logger,
	}, nil
}

// Generate produces an answer grounded in chunks. Returns ErrUnavailable
// when the backend fails after retries or the timeout elapses.
func (gg *GenkitGenerator) Generate(ctx context.Context, question string, chunks []knowledge.Chunk) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, gg.timeout)
	defer cancel()

	prompt := fmt.Sprintf(answerPrompt, formatContext(chunks), question)

	resp, err := gg.generateWithRetry(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	return &Result{
		Text:         text,
		UsedChunkIDs: citedChunkIDs(text, chunks),
	}, nil
}

// generateWithRetry executes the model call with exponential backoff.
// Each attempt waits on the rate limiter first so retries cannot pile
// onto an already throttled quota.
func (gg *GenkitGenerator) generateWithRetry(ctx context.Context, prompt string) (*ai.ModelResponse, error) {
	var lastErr error
	delay := gg.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= gg.retry.MaxRetries; attempt++ {
		if err := gg.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := genkit.Generate(ctx, gg.g,
			ai.WithModelName(gg.modelName),
			ai.WithPrompt(prompt),
		)
		if err == nil {
			gg.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generating answer: %w", err)
		}
		if attempt == gg.retry.MaxRetries {
			break
		}

		gg.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, gg.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generating answer after %d retries (elapsed: %v): %w",
		gg.retry.MaxRetries, time.Since(start), lastErr)
}

// retryableError reports whether an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	// Rate limits and transient server errors.
	if containsAny(errStr, "rate limit", "quota exceeded", "429") {
		return true
	}
	if containsAny(errStr, "500", "502", "503", "504", "unavailable") {
		return true
	}
	// Network flakes.
	return containsAny(errStr, "connection reset", "timeout", "temporary")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// formatContext renders chunks as numbered passages for the prompt.
func formatContext(chunks []knowledge.Chunk) string {
	if len(chunks) == 0 {
		return "Context: (no passages available)\n"
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Content)
	}
	return b.String()
}

// citationMarker matches [n] passage references in generated text.
var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// citedChunkIDs maps [n] markers in text back to chunk IDs, preserving
// chunk order and dropping duplicates and out-of-range numbers.
func citedChunkIDs(text string, chunks []knowledge.Chunk) []string {
	cited := make(map[int]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(chunks) {
			continue
		}
		cited[n-1] = true
	}

	var ids []string
	for i, c := range chunks {
		if cited[i] {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
