// Package classify is the boundary to the AI categorization collaborator.
//
// Classification is best-effort enrichment: callers persist the message first
// and patch the annotation in afterwards, so a slow or failing classifier can
// never block delivery.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is the annotation attached to a classified message.
type Result struct {
	Category string `json:"category"`
	Title    string `json:"title"`
}

// Classifier labels a message body with a category and a short title.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Noop returns empty annotations. Used when no classifier is configured.
type Noop struct{}

// Classify implements Classifier.
func (Noop) Classify(_ context.Context, _ string) (Result, error) {
	return Result{}, nil
}

const (
	defaultTimeout   = 10 * time.Second
	defaultModel     = "gpt-4o-mini"
	maxResponseBytes = 1 << 20
)

const systemPrompt = `Categorize the chat message. Reply with strict JSON: ` +
	`{"category": "<one or two words>", "title": "<at most six words>"}. No prose.`

// HTTPClassifier calls an OpenAI-compatible chat-completions endpoint.
type HTTPClassifier struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// HTTPOption configures an HTTPClassifier.
type HTTPOption func(*HTTPClassifier)

// WithModel overrides the model name.
func WithModel(model string) HTTPOption {
	return func(c *HTTPClassifier) {
		if strings.TrimSpace(model) != "" {
			c.model = model
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClassifier) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client (tests).
func WithHTTPClient(h *http.Client) HTTPOption {
	return func(c *HTTPClassifier) {
		if h != nil {
			c.client = h
		}
	}
}

// NewHTTPClassifier constructs a classifier against baseURL
// (e.g. "https://api.openai.com/v1").
func NewHTTPClassifier(baseURL, apiKey string, opts ...HTTPOption) (*HTTPClassifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("classify: empty base URL")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("classify: empty API key")
	}

	c := &HTTPClassifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   defaultModel,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify implements Classifier.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.New("classify: empty text")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("classify status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Result{}, fmt.Errorf("classify decode: %w", err)
	}
	if len(cr.Choices) == 0 {
		return Result{}, errors.New("classify: empty choices")
	}

	var out Result
	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Result{}, fmt.Errorf("classify parse %q: %w", truncate(content, 120), err)
	}
	if out.Category == "" {
		return Result{}, errors.New("classify: missing category")
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
