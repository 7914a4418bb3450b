package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultClassifierModel   = "gpt-4o-mini"
	defaultClassifierTimeout = 15 * time.Second

	// Classifier calls are rate limited to keep a misbehaving widget from
	// burning the provider quota: 50 requests per minute with small bursts.
	classifierRateLimit = 50.0 / 60.0
	classifierBurst     = 5
)

// classifierSystemPrompt frames the strict JSON verdict contract. The tenant
// name is interpolated so the model judges topics against that tenant's
// domain.
const classifierSystemPrompt = `You classify user queries for %s, a real-estate knowledge assistant.

Allowed topics: properties and listings, prices, rent, viewings, locations, financing, and questions about the company itself.
Disallowed topics: anything unrelated to real estate or the company, such as recipes, entertainment, sports, or general trivia.

Respond ONLY with a JSON object, no additional text:
{"is_relevant": bool, "reason": string, "suggested_response": string (optional, only when not relevant)}`

// ClassifierConfig holds configuration for the LLM classifier stage.
type ClassifierConfig struct {
	// BaseURL is the base URL of an OpenAI-compatible chat completions API.
	BaseURL string

	// Model is the classifier model name. Default: gpt-4o-mini.
	Model string

	// APIKey authorizes requests when set.
	APIKey string

	// Timeout bounds each classification request. Default: 15s.
	Timeout time.Duration
}

// LLMClassifier implements Classifier against an OpenAI-style chat API.
//
// It returns an error for any provider or parse failure; the Gate converts
// those into fail-open verdicts.
type LLMClassifier struct {
	config  ClassifierConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewLLMClassifier creates a classifier from the configuration.
func NewLLMClassifier(config ClassifierConfig) (*LLMClassifier, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("classifier base URL required")
	}
	if config.Model == "" {
		config.Model = defaultClassifierModel
	}
	if config.Timeout == 0 {
		config.Timeout = defaultClassifierTimeout
	}
	return &LLMClassifier{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(classifierRateLimit), classifierBurst),
	}, nil
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the chat completions response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the query for a strict JSON verdict.
func (c *LLMClassifier) Classify(ctx context.Context, query, tenantName string) (Verdict, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Verdict{}, fmt.Errorf("rate limiter: %w", err)
	}

	req := chatRequest{
		Model:       c.config.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(classifierSystemPrompt, tenantName)},
			{Role: "user", Content: query},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Verdict{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("classifier request: status %d: %s", resp.StatusCode, respBody)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return Verdict{}, fmt.Errorf("parsing response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Verdict{}, fmt.Errorf("empty classifier response")
	}

	return parseVerdict(chat.Choices[0].Message.Content)
}

// parseVerdict parses the model's JSON verdict. Models sometimes wrap JSON
// in markdown fences, so those are stripped first.
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdict Verdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return Verdict{}, fmt.Errorf("parsing verdict JSON: %w", err)
	}
	if verdict.Reason == "" {
		verdict.Reason = "classifier verdict"
	}
	return verdict, nil
}

// Ensure LLMClassifier implements Classifier.
var _ Classifier = (*LLMClassifier)(nil)
