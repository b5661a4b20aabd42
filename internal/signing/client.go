// ABOUTME: HTTP client that signs every outgoing request with the agent's key
// ABOUTME: Used by the agent CLI and by integration tests against the gateway

package signing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client sends signed requests to an AgentDrop gateway.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	signer     *Signer
}

// NewClient creates a client for baseURL that signs with signer.
func NewClient(baseURL string, signer *Signer) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
		signer:     signer,
	}
}

// Signer returns the signer used by the client.
func (c *Client) Signer() *Signer {
	return c.signer
}

// Do sends a signed request. target is a path relative to BaseURL and may carry
// a query string; only the path component is signed.
func (c *Client) Do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL + target)
	if err != nil {
		return nil, fmt.Errorf("parsing request URL: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	headers, err := c.signer.Sign(method, path, body)
	if err != nil {
		return nil, err
	}
	headers.Apply(req.Header)

	return c.HTTPClient.Do(req)
}
