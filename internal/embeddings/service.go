package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the HTTP embedding service.
type Config struct {
	// BaseURL is the base URL of a TEI-compatible embedding API.
	BaseURL string

	// Model is the embedding model name, informational for TEI.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Dimension is the embedding vector size produced by the model.
	Dimension int

	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration

	// MaxRetries bounds retry attempts for retryable failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt. Default: 1s.
	RetryBackoff time.Duration
}

// ApplyDefaults sets defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}
	return nil
}

// Service is a Provider backed by a TEI-compatible HTTP embedding API.
//
// Provider failures are retried with bounded exponential backoff; after
// exhaustion the error wraps ErrProviderUnavailable. Every request carries
// the configured timeout, so a hung provider surfaces as a timeout instead
// of blocking ingestion indefinitely.
type Service struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewService creates an embedding service from the configuration.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

// Dimension returns the configured embedding vector size.
func (s *Service) Dimension() int {
	return s.config.Dimension
}

// Close is a no-op for the HTTP provider.
func (s *Service) Close() error {
	return nil
}

// embedRequest is the request body for the TEI embed endpoint.
type embedRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments embeds a batch of texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embed(ctx, embedRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != s.config.Dimension {
			return nil, fmt.Errorf("provider returned %d dims for text %d, expected %d", len(v), i, s.config.Dimension)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embed(ctx, embedRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}
	if len(vectors[0]) != s.config.Dimension {
		return nil, fmt.Errorf("provider returned %d dims, expected %d", len(vectors[0]), s.config.Dimension)
	}
	return vectors[0], nil
}

// embed posts the request, retrying retryable failures with exponential
// backoff until MaxRetries is exhausted.
func (s *Service) embed(ctx context.Context, req embedRequest) ([][]float32, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	backoff := s.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		vectors, retryable, err := s.doEmbed(ctx, body)
		if err == nil {
			return vectors, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// doEmbed performs one HTTP round trip. The second return value reports
// whether the failure is retryable.
func (s *Service) doEmbed(ctx context.Context, body []byte) ([][]float32, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		// Transport errors and timeouts are retryable.
		return nil, true, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("embedding request: status %d: %s", resp.StatusCode, respBody)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, false, nil
}

// Ensure Service implements Provider.
var _ Provider = (*Service)(nil)
