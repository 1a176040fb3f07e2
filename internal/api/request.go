package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// FieldError is one entry in the errors array of an Upstox error
// envelope.
type FieldError struct {
	ErrorCode    string `json:"errorCode"`
	Message      string `json:"message"`
	PropertyPath string `json:"propertyPath,omitempty"`
	InvalidValue any    `json:"invalidValue,omitempty"`
}

// APIError represents an error from the Upstox API.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("upstox api error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("upstox api error %d: %s", e.StatusCode, e.Message)
}

// IsAuthError returns true for token problems. Retrying will not help;
// the caller needs a fresh access token.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimited returns true when the API throttled the request.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.IsRateLimited()
}

// envelope is the {status, data, errors} wrapper every Upstox response
// carries.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []FieldError    `json:"errors,omitempty"`
}

// doRequest performs an HTTP request with the given method and path.
// A non-nil reqBody is sent as JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, apiErrorFromBody(resp.StatusCode, body)
	}

	return body, nil
}

// apiErrorFromBody builds an APIError, lifting the first entry from the
// error envelope when the body carries one.
func apiErrorFromBody(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
		Body:       body,
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Errors) > 0 {
		apiErr.ErrorCode = env.Errors[0].ErrorCode
		apiErr.Message = env.Errors[0].Message
	}
	return apiErr
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, method, path, query, nil)
		if err == nil {
			return body, nil
		}

		lastErr = err

		// Check if error is retryable
		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// unwrap validates the envelope and unmarshals its data payload.
func unwrap(body []byte, result any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if env.Status == "error" {
		return apiErrorFromBody(http.StatusOK, body)
	}

	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	return unwrap(body, result)
}

// send performs a mutating request. Order mutations are never retried:
// a timed-out place could still have reached the exchange.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, reqBody, result any) error {
	body, err := c.doRequest(ctx, method, path, query, reqBody)
	if err != nil {
		return err
	}
	return unwrap(body, result)
}
