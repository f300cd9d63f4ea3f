// Package upstream fetches the remote catalog snapshot.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultURL is the catalog endpoint used when none is configured.
const DefaultURL = "https://5fc7a13cf3c77600165d89a8.mockapi.io/api/v5/products"

// ErrUnexpectedStatus reports a non-2xx response.
var ErrUnexpectedStatus = errors.New("upstream: unexpected status")

// Record is one decoded snapshot element. Err is set when the element could
// not be decoded; Raw always holds the original bytes.
type Record struct {
	Product RemoteProduct
	Raw     json.RawMessage
	Err     error
}

// Client wraps the remote catalog API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchProducts performs one GET and decodes the JSON array. Transport
// failures, timeouts, non-2xx statuses and a body that is not a JSON array
// are returned as errors; individual elements that fail to decode are
// returned as records carrying Err.
func (c *Client) FetchProducts(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch products: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var elements []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("upstream: decode products: %w", err)
	}
	records := make([]Record, 0, len(elements))
	for _, raw := range elements {
		rec := Record{Raw: raw}
		if err := json.Unmarshal(raw, &rec.Product); err != nil {
			rec.Err = fmt.Errorf("upstream: decode product: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
