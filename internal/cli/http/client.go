package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxResponseBytes = 8 << 20

// ResponseInfo is one finished exchange with the judge service.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	RequestID  string
}

// Client sends JSON requests to the judge service. The REPL and the
// background poller share one Client, so settings are guarded.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	http    *http.Client
	token   func() string
}

func New(baseURL string, timeout time.Duration, token func() string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	c.http = &http.Client{Timeout: timeout}
	c.mu.Unlock()
}

// Do sends body to path and reads the whole response. A non-2xx status is
// not an error here; callers decode the envelope.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	c.mu.RLock()
	target, hc := c.baseURL+path, c.http
	c.mu.RUnlock()

	info := ResponseInfo{RequestID: uuid.NewString()}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return info, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", info.RequestID)
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	info.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return info, fmt.Errorf("read response body: %w", err)
	}
	return info, nil
}
