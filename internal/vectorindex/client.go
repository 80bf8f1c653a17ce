// Package vectorindex talks to the external vector index over HTTP and
// hosts the pipeline's indexing stage. The client wraps every call in
// a circuit breaker so a dead index fails fast instead of stalling the
// run on per-request timeouts.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single index request.
	DefaultTimeout = 30 * time.Second

	maxResponseSize = 8 * 1024 * 1024
)

// Client is an HTTP client for one index class.
type Client struct {
	baseURL    string
	class      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a client for the given endpoint and class name.
func NewClient(baseURL, class string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vector-index",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		class:      class,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

// WithHTTPClient returns a copy using a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		baseURL:    c.baseURL,
		class:      c.class,
		httpClient: httpClient,
		breaker:    c.breaker,
		logger:     c.logger,
	}
}

// Class returns the index class this client writes to.
func (c *Client) Class() string { return c.class }

type httpReply struct {
	status int
	body   []byte
}

// do performs one request through the breaker. Transport errors and
// 5xx responses count as breaker failures; 4xx responses are returned
// to the caller without tripping it.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*httpReply, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, trim(respBody))
		}
		return &httpReply{status: resp.StatusCode, body: respBody}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return out.(*httpReply), nil
}

func trim(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// UpsertBatch writes documents and their vectors in one call. It
// returns the accepted count and the index's per-item rejections; the
// call as a whole fails only when the index was unreachable or refused
// the batch outright.
func (c *Client) UpsertBatch(ctx context.Context, docs []map[string]interface{}, vectors [][]float32, ids []string) (int, []ItemError, error) {
	if len(docs) != len(vectors) || len(docs) != len(ids) {
		return 0, nil, fmt.Errorf("%w: mismatched batch lengths (docs %d, vectors %d, ids %d)",
			ErrIndexing, len(docs), len(vectors), len(ids))
	}
	if len(docs) == 0 {
		return 0, nil, nil
	}

	req := batchRequest{Objects: make([]indexObject, len(docs))}
	for i := range docs {
		req.Objects[i] = indexObject{ID: ids[i], Fields: docs[i], Vector: vectors[i]}
	}

	reply, err := c.do(ctx, http.MethodPost, "/v1/batch/"+url.PathEscape(c.class), req)
	if err != nil {
		return 0, nil, err
	}
	if reply.status != http.StatusOK {
		return 0, nil, fmt.Errorf("%w: batch rejected with status %d: %s",
			ErrIndexing, reply.status, trim(reply.body))
	}

	var br batchResponse
	if err := json.Unmarshal(reply.body, &br); err != nil {
		return 0, nil, fmt.Errorf("%w: parsing batch response: %v", ErrIndexing, err)
	}
	return br.OK, br.Errors, nil
}

// Delete removes an object. A missing id is success-with-warning: the
// returned bool is false and the error nil.
func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	reply, err := c.do(ctx, http.MethodDelete, c.objectPath(id), nil)
	if err != nil {
		return false, err
	}
	switch reply.status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: delete %s: status %d", ErrIndexing, id, reply.status)
	}
}

// Update overwrites only the supplied fields; a non-nil vector
// replaces the stored vector wholesale.
func (c *Client) Update(ctx context.Context, id string, fields map[string]interface{}, vector []float32) error {
	if len(fields) == 0 && vector == nil {
		return fmt.Errorf("%w: update %s: nothing to update", ErrIndexing, id)
	}
	reply, err := c.do(ctx, http.MethodPatch, c.objectPath(id), updateRequest{Fields: fields, Vector: vector})
	if err != nil {
		return err
	}
	if reply.status != http.StatusOK && reply.status != http.StatusNoContent {
		return fmt.Errorf("%w: update %s: status %d: %s", ErrIndexing, id, reply.status, trim(reply.body))
	}
	return nil
}

// SemanticSearch runs a pure vector query.
func (c *Client) SemanticSearch(ctx context.Context, vector []float32, limit int, minScore float64, props []string) ([]Result, error) {
	req := semanticRequest{Vector: vector, Limit: limit, MinScore: minScore, Properties: props}
	return c.search(ctx, "/v1/search/"+url.PathEscape(c.class)+"/semantic", req)
}

// HybridSearch mixes keyword and vector scores; alpha is the vector
// weight in [0, 1].
func (c *Client) HybridSearch(ctx context.Context, text string, vector []float32, limit int, alpha float64, props []string) ([]Result, error) {
	req := hybridRequest{Text: text, Vector: vector, Limit: limit, Alpha: alpha, Properties: props}
	return c.search(ctx, "/v1/search/"+url.PathEscape(c.class)+"/hybrid", req)
}

func (c *Client) search(ctx context.Context, path string, req interface{}) ([]Result, error) {
	reply, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}
	if reply.status != http.StatusOK {
		return nil, fmt.Errorf("%w: search: status %d: %s", ErrIndexing, reply.status, trim(reply.body))
	}
	var sr searchResponse
	if err := json.Unmarshal(reply.body, &sr); err != nil {
		return nil, fmt.Errorf("%w: parsing search response: %v", ErrIndexing, err)
	}
	return sr.Results, nil
}

func (c *Client) objectPath(id string) string {
	return "/v1/objects/" + url.PathEscape(c.class) + "/" + url.PathEscape(id)
}
