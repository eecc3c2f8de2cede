package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmbeddingConfig = errors.New("embedding provider misconfigured")
	ErrEmbeddingFailed = errors.New("failed to generate embedding")
)

const (
	embeddingAPI        = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	defaultEmbeddingDim = 768
)

// EmbeddingProvider maps text to a fixed-dimension vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dim() int
}

// BackoffPolicy retries an operation with exponential backoff. Sleep is
// swappable so retry behavior can be tested with a fake clock.
type BackoffPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Sleep          func(time.Duration)
}

// DefaultBackoff matches the retry behavior used for all remote provider
// calls: three attempts, 1s initial delay, doubling.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 3, InitialBackoff: time.Second}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable (e.g. a 400 or 401 response).
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, a permanent error occurs, the context is
// cancelled, or MaxAttempts is exhausted. The last error is returned.
func (p BackoffPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	backoff := p.InitialBackoff
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			sleep(backoff)
			backoff *= 2
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}

// NewEmbeddingProviderFromEnv creates an embedding provider from
// environment variables. Misconfiguration is fatal, not retried.
func NewEmbeddingProviderFromEnv() (EmbeddingProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER")))
	if provider == "" {
		provider = "mock"
	}

	dim := defaultEmbeddingDim
	if raw := os.Getenv("EMBEDDING_DIM"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%w: invalid EMBEDDING_DIM %q", ErrEmbeddingConfig, raw)
		}
		dim = parsed
	}

	switch provider {
	case "mock":
		return NewMockEmbedder(dim), nil
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", ErrEmbeddingConfig)
		}
		return NewGeminiEmbedder(apiKey, dim, DefaultBackoff()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrEmbeddingConfig, provider)
	}
}

// MockEmbedder produces a deterministic pseudo-embedding from a text
// digest. Used for development and tests; no network access.
type MockEmbedder struct {
	dim int
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim}
}

// Embed maps text to a stable vector in [-1, 1].
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if m.dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrEmbeddingConfig)
	}
	digest := sha256.Sum256([]byte(text))
	vec := make([]float64, m.dim)
	for i := 0; i < m.dim; i++ {
		b := digest[i%len(digest)]
		vec[i] = (float64(b)/255.0)*2.0 - 1.0
	}
	return vec, nil
}

// Dim returns the embedding dimension.
func (m *MockEmbedder) Dim() int { return m.dim }

// GeminiEmbedder calls the Gemini embedding API over HTTP with retry and
// exponential backoff, and L2-normalizes the result.
type GeminiEmbedder struct {
	apiKey  string
	dim     int
	backoff BackoffPolicy
	client  *http.Client
}

// NewGeminiEmbedder creates a Gemini embedding provider.
func NewGeminiEmbedder(apiKey string, dim int, backoff BackoffPolicy) *GeminiEmbedder {
	return &GeminiEmbedder{
		apiKey:  apiKey,
		dim:     dim,
		backoff: backoff,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model                string       `json:"model"`
	Content              contentInput `json:"content"`
	TaskType             string       `json:"task_type,omitempty"`
	OutputDimensionality int          `json:"output_dimensionality,omitempty"`
}

type contentInput struct {
	Parts []partInput `json:"parts"`
}

type partInput struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// Embed generates a retrieval-query embedding for the given text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := embeddingRequest{
		Model: "models/gemini-embedding-001",
		Content: contentInput{
			Parts: []partInput{{Text: text}},
		},
		TaskType:             "RETRIEVAL_QUERY",
		OutputDimensionality: g.dim,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var embedding []float64
	err = g.backoff.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", embeddingAPI, bytes.NewBuffer(jsonData))
		if err != nil {
			return Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", g.apiKey)

		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			apiErr := fmt.Errorf("API error: %d", resp.StatusCode)
			// Don't retry on 400 or 401 errors
			if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
				return Permanent(apiErr)
			}
			return apiErr
		}

		var apiResp embeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(apiResp.Embedding.Values) == 0 {
			return ErrEmbeddingFailed
		}
		embedding = apiResp.Embedding.Values
		return nil
	})
	if err != nil {
		return nil, err
	}

	normalize(embedding)
	return embedding, nil
}

// Dim returns the embedding dimension.
func (g *GeminiEmbedder) Dim() int { return g.dim }

func normalize(vec []float64) {
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
}
