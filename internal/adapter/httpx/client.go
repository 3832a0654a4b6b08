/*
Copyright 2025 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpx is the transport layer shared by the reference adapters:
// a timeout-bound *http.Client wrapped in a backoff retrier that only
// retries failures that are transient: network errors, 429, and 5xx.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/etlify/etlify-go/internal/adapter"
)

const defaultTimeout = 30 * time.Second

// Client performs bearer-authenticated JSON HTTP calls with retry on
// transient failure.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxRetries overrides the default number of transient-failure retries.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithHTTPClient swaps the underlying *http.Client (tests use this to
// inject a fake RoundTripper).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client targeting baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		maxRetries: 3,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do issues method against path (joined to the base URL) with an optional
// JSON body, retrying transient failures (TransportError, RateLimited,
// 5xx) with exponential backoff honoring Retry-After when present. It
// returns the raw response status code and body; callers interpret the
// taxonomy themselves since HubSpot and Airtable shape errors differently.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (statusCode int, respBody []byte, err error) {
	var lastErr error

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	operation := func() error {
		req, buildErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader(body))
		if buildErr != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", buildErr))
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			lastErr = adapter.NewTransport(doErr)
			return lastErr
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			lastErr = adapter.NewTransport(readErr)
			return lastErr
		}

		statusCode = resp.StatusCode
		respBody = data

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			lastErr = nil
			return nil
		}

		apiErr := adapter.NewFromStatus(resp.StatusCode, string(data))
		apiErr.RetryAfter = resp.Header.Get("Retry-After")
		lastErr = apiErr

		if !adapter.IsRetryable(apiErr) {
			return backoff.Permanent(apiErr)
		}

		// Honor Retry-After on any retryable response by sleeping for it
		// up front; the
		// backoff policy still applies its own interval on top for any
		// subsequent attempt.
		if wait, ok := retryAfterDuration(apiErr.RetryAfter); ok && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return backoff.Permanent(ctx.Err())
			}
		}

		return apiErr
	}

	if retryErr := backoff.Retry(operation, policy); retryErr != nil {
		if lastErr != nil {
			return statusCode, respBody, lastErr
		}
		return statusCode, respBody, retryErr
	}

	return statusCode, respBody, nil
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return &byteReader{data: body}
}

// byteReader is a minimal io.Reader over a byte slice, avoiding a
// bytes.Reader import purely for stylistic parity with the rest of the
// adapter package's small-surface helpers.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func retryAfterDuration(headerValue string) (time.Duration, bool) {
	if headerValue == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(headerValue); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(headerValue); err == nil {
		return time.Until(when), true
	}
	return 0, false
}
