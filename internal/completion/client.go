// Package completion calls an OpenAI-compatible chat completions endpoint
// (Perplexity sonar models) with an optional structured-output schema.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

const (
	DefaultBaseURL   = "https://api.perplexity.ai"
	DefaultFastModel = "sonar-pro"
	DefaultDeepModel = "sonar-deep-research"

	defaultTimeout     = 60 * time.Second
	defaultDeepTimeout = 300 * time.Second
	maxRetries         = 3
	initialBackoff     = 500 * time.Millisecond
	maxErrorBody       = 1024
)

// DefaultSearchDomains is the allow-list of news sources for fast lookups.
var DefaultSearchDomains = []string{"bloomberg.com", "barrons.com", "fortuneindia.com", "financialexpress.com"}

// Config configures a Client. Zero fields take defaults.
type Config struct {
	BaseURL       string
	APIKey        string
	FastModel     string
	DeepModel     string
	Timeout       time.Duration
	DeepTimeout   time.Duration
	SearchDomains []string
	Logger        *slog.Logger
}

// Client talks to the completion API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	schemas    sync.Map // reflect.Type -> any
	backoff    time.Duration
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.FastModel == "" {
		cfg.FastModel = DefaultFastModel
	}
	if cfg.DeepModel == "" {
		cfg.DeepModel = DefaultDeepModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DeepTimeout <= 0 {
		cfg.DeepTimeout = defaultDeepTimeout
	}
	if cfg.SearchDomains == nil {
		cfg.SearchDomains = DefaultSearchDomains
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// Per-request deadlines are set from the model's timeout.
		httpClient: &http.Client{},
		logger:     logger,
		backoff:    initialBackoff,
	}
}

// FastModel returns the configured fast model id.
func (c *Client) FastModel() string { return c.cfg.FastModel }

// DeepModel returns the configured deep research model id.
func (c *Client) DeepModel() string { return c.cfg.DeepModel }

// SearchDomains returns the configured allow-list for fast lookups.
func (c *Client) SearchDomains() []string { return c.cfg.SearchDomains }

// Variant is the class of upstream model a request targets.
type Variant int

const (
	// VariantFast answers quickly and honours the search domain allow-list.
	VariantFast Variant = iota
	// VariantDeep runs long research calls; the allow-list is never sent.
	VariantDeep
)

// VariantOf classifies model. Anything other than the deep model is fast.
func (c *Client) VariantOf(model string) Variant {
	if model == c.cfg.DeepModel {
		return VariantDeep
	}
	return VariantFast
}

// Complete sends the request and returns the content of the first choice.
// HTTP 429 responses are retried with exponential backoff.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.FastModel
	}
	deep := c.VariantOf(model) == VariantDeep

	body := chatRequest{Model: model, Messages: req.Messages}
	if !deep && len(req.SearchDomains) > 0 {
		body.SearchDomainFilter = req.SearchDomains
	}
	if req.Schema != nil {
		schema, err := c.schemaFor(req.Schema)
		if err != nil {
			return "", &CompletionError{Model: model, Err: err}
		}
		body.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: jsonSchemaFormat{Schema: schema}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &CompletionError{Model: model, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	timeout := c.cfg.Timeout
	if deep {
		timeout = c.cfg.DeepTimeout
	}

	var lastErr error
	for attempt := range maxRetries {
		start := time.Now()
		content, err := c.doComplete(ctx, model, payload, timeout)
		if err == nil {
			c.logger.Debug("completion finished", "model", model, "attempt", attempt+1, "duration", time.Since(start))
			return content, nil
		}
		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			c.logger.Warn("completion rate limited, backing off", "model", model, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", &CompletionError{Model: model, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}

	return "", &CompletionError{Model: model, Status: http.StatusTooManyRequests,
		Err: fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)}
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct{}

func (e *rateLimitError) Error() string { return "rate limited" }

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doComplete(ctx context.Context, model string, payload []byte, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &CompletionError{Model: model, Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &CompletionError{Model: model, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return "", &rateLimitError{}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &CompletionError{Model: model, Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(respBody)))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &CompletionError{Model: model, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &CompletionError{Model: model, Status: resp.StatusCode, Err: errors.New("response has no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

// schemaFor reflects the JSON schema of v's type, caching per type.
func (c *Client) schemaFor(v any) (any, error) {
	t := reflect.TypeOf(v)
	if cached, ok := c.schemas.Load(t); ok {
		return cached, nil
	}

	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema for %s: %w", t, err)
	}
	// Drop the $schema/$id metadata; the API only wants the object schema.
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding schema for %s: %w", t, err)
	}
	delete(m, "$schema")
	delete(m, "$id")

	c.schemas.Store(t, m)
	return m, nil
}
