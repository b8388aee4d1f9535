package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultAPIBase = "https://api.telegram.org"

// MaxMessageRunes keeps each message safely under Telegram's 4096 character limit.
const MaxMessageRunes = 4000

type Poster struct {
	token   string
	chatID  string
	client  *http.Client
	logger  *slog.Logger
	apiBase string
}

func NewPoster(token, chatID string, timeout time.Duration, logger *slog.Logger) *Poster {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poster{
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: timeout},
		apiBase: defaultAPIBase,
		logger:  logger,
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// SendText sends text as one or more HTML messages, in order.
func (p *Poster) SendText(ctx context.Context, text string) error {
	chunks := Chunk(text, MaxMessageRunes)
	for i, chunk := range chunks {
		body, err := json.Marshal(map[string]any{
			"chat_id":                  p.chatID,
			"text":                     chunk,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		})
		if err != nil {
			return fmt.Errorf("marshal telegram payload: %w", err)
		}
		if err := p.post(ctx, "sendMessage", "application/json", body); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	p.logger.Debug("sent telegram message", "chunks", len(chunks))
	return nil
}

// SendDocument uploads data as a file attachment.
func (p *Poster) SendDocument(ctx context.Context, filename string, data []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", p.chatID); err != nil {
		return fmt.Errorf("write chat_id: %w", err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption: %w", err)
		}
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("create document part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	if err := p.post(ctx, "sendDocument", mw.FormDataContentType(), buf.Bytes()); err != nil {
		return fmt.Errorf("send document %s: %w", filename, err)
	}
	p.logger.Info("sent telegram document", "filename", filename, "bytes", len(data))
	return nil
}

func (p *Poster) post(ctx context.Context, method, contentType string, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/%s", p.apiBase, p.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs and operator messages.
		return fmt.Errorf("telegram %s: %s", method, strings.ReplaceAll(err.Error(), p.token, "***"))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var tgResp apiResponse
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return fmt.Errorf("parse telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram error %d: %s", tgResp.ErrorCode, tgResp.Description)
	}
	return nil
}

// Chunk splits text into pieces of at most limit runes, breaking at line boundaries
// where possible and hard-splitting lines that are longer than limit.
func Chunk(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n <= limit {
			cur.WriteString(line)
			curLen += n
			continue
		}
		flush()
		runes := []rune(line)
		for len(runes) > limit {
			cut := entitySafeCut(runes[:limit])
			chunks = append(chunks, string(runes[:cut]))
			runes = runes[cut:]
		}
		cur.WriteString(string(runes))
		curLen = len(runes)
	}
	flush()
	return chunks
}

// entitySafeCut returns where to end a hard-split piece so an HTML character entity
// such as &amp; is not torn across two messages.
func entitySafeCut(piece []rune) int {
	for i := len(piece) - 1; i > 0 && i >= len(piece)-10; i-- {
		switch piece[i] {
		case ';':
			return len(piece)
		case '&':
			return i
		}
	}
	return len(piece)
}
