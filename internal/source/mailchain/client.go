// Package mailchain is a thin client for the HTTP API of a local
// Mailchain client.
package mailchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/source"
)

// maxErrorBody caps how much of an error response ends up in messages.
const maxErrorBody = 512

// Client calls the Mailchain client API. It spaces requests with a
// client-side rate limit and retries HTTP 429 with backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

var _ source.Source = (*Client)(nil)

// NewClient creates a client for the API rooted at baseURL, e.g.
// http://127.0.0.1:8080/api.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:    rate.NewLimiter(rate.Limit(20), 5),
		maxRetries: 3,
	}
}

// SetRateLimit replaces the request rate limit.
func (c *Client) SetRateLimit(limit rate.Limit, burst int) {
	c.limiter = rate.NewLimiter(limit, burst)
}

// Version returns the Mailchain client version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp VersionResponse
	if err := c.get(ctx, "/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Protocols flattens the protocol list into (protocol, network) pairs.
func (c *Client) Protocols(ctx context.Context) ([]model.ProtocolNetwork, error) {
	var resp ProtocolsResponse
	if err := c.get(ctx, "/protocols", nil, &resp); err != nil {
		return nil, err
	}

	var pairs []model.ProtocolNetwork
	for _, p := range resp.Protocols {
		for _, n := range p.Networks {
			pairs = append(pairs, model.ProtocolNetwork{Protocol: p.Name, Network: n.Name})
		}
	}
	return pairs, nil
}

// Addresses returns the addresses for one protocol and network.
func (c *Client) Addresses(ctx context.Context, pn model.ProtocolNetwork) ([]string, error) {
	q := url.Values{}
	q.Set("protocol", pn.Protocol)
	q.Set("network", pn.Network)

	var resp AddressesResponse
	if err := c.get(ctx, "/addresses", q, &resp); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// Messages returns the inbox of one address. The address is normalized
// for its protocol before querying.
func (c *Client) Messages(ctx context.Context, target model.Target) ([]model.Message, error) {
	q := url.Values{}
	q.Set("address", model.NormalizeAddress(target.Protocol, target.Address))
	q.Set("protocol", target.Protocol)
	q.Set("network", target.Network)

	var resp MessagesResponse
	if err := c.get(ctx, "/messages", q, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// get performs a GET request, retrying on HTTP 429, and decodes the JSON
// response into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	op := "GET " + path
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.Wrap(model.KindTransient, op, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return model.Wrap(model.KindConfig, op, fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return model.Wrap(model.KindTransient, op, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return model.Wrap(model.KindTransient, op, fmt.Errorf("reading response body: %w", readErr))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			select {
			case <-ctx.Done():
				return model.Wrap(model.KindTransient, op, ctx.Err())
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			kind := model.KindProtocol
			if resp.StatusCode >= 500 {
				kind = model.KindTransient
			}
			return model.Errorf(kind, op, "unexpected status %d: %s",
				resp.StatusCode, truncate(string(body), maxErrorBody))
		}

		if err := json.Unmarshal(body, result); err != nil {
			return model.Wrap(model.KindProtocol, op, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	return model.Wrap(model.KindTransient, op,
		fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr))
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	// 1s, 2s, 4s, ... capped at 30s.
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
