// Package anthropic sends call-evaluation prompts to the Claude Messages API.
package anthropic

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

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"

	// statusOverloaded is returned by the API when the model is at capacity.
	statusOverloaded = 529
)

var (
	// ErrEmptyEvaluation means the model answered without any text block.
	ErrEmptyEvaluation = errors.New("evaluation model returned no text")

	// ErrOutputTruncated means the model hit max_tokens. The partial text is still
	// returned alongside it.
	ErrOutputTruncated = errors.New("evaluation output cut at max_tokens")
)

// APIError is a non-200 answer from the evaluation model endpoint.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("evaluation model status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("evaluation model status %d: %s: %s", e.Status, e.Type, e.Message)
}

// Transient reports whether the same request may succeed later.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == statusOverloaded || e.Status >= 500
}

type Client struct {
	apiKey     string
	model      string
	apiURL     string
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func NewClient(apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		client: &http.Client{Timeout: timeout},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxElapsedTime = time.Minute
			return backoff.WithMaxRetries(bo, 2)
		},
	}
}

// SetTestTransport points the client at a test server base URL.
func (c *Client) SetTestTransport(baseURL string) {
	c.apiURL = strings.TrimRight(baseURL, "/") + "/v1/messages"
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete runs one evaluation turn at temperature 0 and returns the concatenated text
// blocks. Rate limits and overload answers are retried with backoff; other API errors
// come back as *APIError straight away.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal evaluation request: %w", err)
	}

	var out response
	op := func() error {
		resp, err := c.send(ctx, body)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Transient() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = *resp
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyEvaluation
	}
	if out.StopReason == "max_tokens" {
		return sb.String(), ErrOutputTruncated
	}
	return sb.String(), nil
}

func (c *Client) send(ctx context.Context, body []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create evaluation request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evaluation model: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read evaluation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			apiErr.Type = errResp.Error.Type
			apiErr.Message = errResp.Error.Message
		} else {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode evaluation response: %w", err))
	}
	return &out, nil
}
