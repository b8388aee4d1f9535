package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/callwatch/internal/audio"
)

// ErrTranscriptionFailed matches every non-success response from the speech-to-text endpoint.
var ErrTranscriptionFailed = errors.New("transcription failed")

// TranscriptionError carries the upstream status and body for diagnosis.
type TranscriptionError struct {
	Status int
	Body   string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: status %d: %s", e.Status, e.Body)
}

func (e *TranscriptionError) Unwrap() error { return ErrTranscriptionFailed }

const ukrainianPrompt = "Транскрибуй українською мовою (uk). Дотримуйся української орфографії, " +
	"без російських літер і кальок. Приклади: «будь ласка», «зв'язок», «підключення», «номер». " +
	"Не змішуй українську та російську."

// Client calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type Client struct {
	apiKey         string
	model          string
	apiURL         string
	promptOverride string
	client         *http.Client
}

func NewClient(apiKey, baseURL, model, promptOverride string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		apiKey:         apiKey,
		model:          model,
		apiURL:         strings.TrimRight(baseURL, "/") + "/v1/audio/transcriptions",
		promptOverride: promptOverride,
		client:         &http.Client{Timeout: timeout},
	}
}

// Prompt returns the style-biasing prompt sent for a language.
func (c *Client) Prompt(language string) string {
	if c.promptOverride != "" {
		return c.promptOverride
	}
	if language == "uk" {
		return ukrainianPrompt
	}
	return ""
}

// Transcribe sends the payload once and returns the plain-text transcript.
func (c *Client) Transcribe(ctx context.Context, payload *audio.Payload, language string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, payload.Filename))
	header.Set("Content-Type", payload.MimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(payload.Bytes); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}

	fields := map[string]string{
		"model":           c.model,
		"response_format": "json",
		"temperature":     "0",
	}
	if language != "" {
		fields["language"] = language
	}
	if prompt := c.Prompt(language); prompt != "" {
		fields["prompt"] = prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TranscriptionError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
