package proxy

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

	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultChatTimeout   = 120 * time.Second
	defaultHealthTimeout = 10 * time.Second
	maxResponseSize      = 64 << 20
	maxErrorBody         = 512
)

// Client forwards requests to the chat backend, adding the bearer credential.
// It does not retry: retries belong to the submitting client.
type Client struct {
	target        Target
	baseURL       string
	httpClient    *http.Client
	chatTimeout   time.Duration
	healthTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithChatTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.chatTimeout = d
		}
	}
}

func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

func NewClient(target Target, opts ...Option) *Client {
	c := &Client{
		target:        target,
		baseURL:       strings.TrimRight(target.BaseURL, "/"),
		httpClient:    &http.Client{},
		chatTimeout:   defaultChatTimeout,
		healthTimeout: defaultHealthTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Target() Target { return c.target }

// Chat posts body to the backend chat endpoint and returns the response
// body unchanged.
func (c *Client) Chat(ctx context.Context, body []byte) ([]byte, error) {
	if err := c.target.Validate(true); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/api/chat", body, c.chatTimeout)
}

// Health fetches the backend health document. Only the base URL is
// required; the credential is sent when configured.
func (c *Client) Health(ctx context.Context) ([]byte, error) {
	if err := c.target.Validate(false); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, "/api/health", nil, c.healthTimeout)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if !json.Valid(data) {
		return nil, errors.New("backend returned a malformed JSON body")
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.target.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.target.APIKey)
	}
	if id := middleware.GetReqID(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
}
