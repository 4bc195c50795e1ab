package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
)

// Client talks to a running castwright server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// dialAttempts bounds retries of GETs while the server is still binding.
	dialAttempts uint
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// content generation runs one provider call per chapter inside the request
			Timeout: 30 * time.Minute,
		},
		dialAttempts: 3,
	}
}

// Get decodes the JSON body of a GET into result.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decode(body, result)
}

// GetText returns the raw body of a GET, e.g. Prometheus exposition text.
func (c *Client) GetText(ctx context.Context, path string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	return string(body), err
}

// Post sends body as JSON and decodes the JSON response into result.
// A nil body sends no payload.
func (c *Client) Post(ctx context.Context, path string, body any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	return decode(resp, result)
}

// do returns the body of a 2xx response or a *StatusError. Only GETs are
// retried, and only when the connection was refused.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	send := func() ([]byte, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, statusError(resp.StatusCode, body)
		}
		return body, nil
	}

	attempts := uint(1)
	if method == http.MethodGet && c.dialAttempts > 1 {
		attempts = c.dialAttempts
	}
	return retry.DoWithData(send,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(250*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }),
		retry.LastErrorOnly(true),
	)
}

func decode(body []byte, result any) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) *StatusError {
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return &StatusError{Code: code, Message: er.Error}
	}
	return &StatusError{Code: code, Message: string(body)}
}

// ErrorResponse matches the server's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is a response with status 400 or above.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Code, e.Message)
}
