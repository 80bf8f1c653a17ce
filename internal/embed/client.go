// Package embed chunks document bodies, requests vectors from the
// embedding model, and hosts the embedding stage.
package embed

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

	"github.com/sony/gobreaker"
)

var (
	// ErrUnavailable reports the embedding model could not be reached.
	ErrUnavailable = errors.New("embedding model unavailable")

	// ErrEmbedding reports a request the model rejected.
	ErrEmbedding = errors.New("embedding failed")
)

// Client produces one vector per input text.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// DefaultTimeout bounds a single embedding request.
const DefaultTimeout = 30 * time.Second

// HTTPClient talks to an embedding server. Transport errors and 5xx
// responses count toward the circuit breaker; 4xx responses do not.
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

type embedReply struct {
	status int
	body   []byte
}

// NewHTTPClient creates a client for the given endpoint and model.
func NewHTTPClient(baseURL, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embedding-model",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// WithHTTPClient returns a copy using a custom HTTP client.
func (c *HTTPClient) WithHTTPClient(httpClient *http.Client) *HTTPClient {
	return &HTTPClient{
		baseURL:    c.baseURL,
		model:      c.model,
		httpClient: httpClient,
		breaker:    c.breaker,
	}
}

// Model returns the configured model name.
func (c *HTTPClient) Model() string { return c.model }

// Embed requests one vector per text; the response is aligned with the
// request order.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: c.model, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return &embedReply{status: resp.StatusCode, body: respBody}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}

	reply := out.(*embedReply)
	if reply.status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s",
			ErrEmbedding, reply.status, strings.TrimSpace(string(reply.body)))
	}

	var er embedResponse
	if err := json.Unmarshal(reply.body, &er); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrEmbedding, err)
	}
	if len(er.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(er.Vectors), len(texts))
	}
	return er.Vectors, nil
}
