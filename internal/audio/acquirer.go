package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	ErrPayloadTooLarge       = errors.New("audio payload exceeds size cap")
	ErrPayloadTooSmall       = errors.New("audio payload below size floor")
	ErrUnexpectedContentType = errors.New("audio response is not a recording")
	ErrFetchFailed           = errors.New("audio fetch failed")
)

// A tiny body with no declared audio type and no extension is an error page, not a recording.
const smallBodyThreshold = 1024

// Payload is one downloaded recording.
type Payload struct {
	Bytes     []byte
	MimeType  string
	SizeBytes int64
	Filename  string
}

var textualTypes = map[string]bool{
	"text/html":       true,
	"text/plain":      true,
	"application/xml": true,
	"text/xml":        true,
}

var extensionTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// Acquirer downloads recordings with a hard byte cap.
type Acquirer struct {
	client   *http.Client
	minBytes int64
}

func NewAcquirer(timeout time.Duration, minBytes int64) *Acquirer {
	return &Acquirer{
		client:   &http.Client{Timeout: timeout},
		minBytes: minBytes,
	}
}

// Fetch downloads address, refusing anything over maxBytes. A declared length over
// the cap fails before the body is read; an absent or wrong length is caught while streaming.
func (a *Acquirer) Fetch(ctx context.Context, address string, maxBytes int64) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetchFailed, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, cap %d", ErrPayloadTooLarge, resp.ContentLength, maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes streamed", ErrPayloadTooLarge, maxBytes)
	}

	mimeType, err := resolveType(resp.Header.Get("Content-Type"), address, len(body))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) < a.minBytes {
		return nil, fmt.Errorf("%w: %d bytes, floor %d", ErrPayloadTooSmall, len(body), a.minBytes)
	}

	return &Payload{
		Bytes:     body,
		MimeType:  mimeType,
		SizeBytes: int64(len(body)),
		Filename:  filename(address, mimeType),
	}, nil
}

func resolveType(declared, address string, size int) (string, error) {
	mediaType := ""
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			mediaType = strings.ToLower(mt)
		}
	}
	if mediaType != "" && !textualTypes[mediaType] {
		return mediaType, nil
	}

	ext := extension(address)
	if t, ok := extensionTypes[ext]; ok {
		return t, nil
	}
	if size < smallBodyThreshold {
		return "", fmt.Errorf("%w: declared %q, %d bytes, no audio extension", ErrUnexpectedContentType, declared, size)
	}
	return "audio/mpeg", nil
}

func extension(address string) string {
	p := address
	if u, err := url.Parse(address); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func filename(address, mimeType string) string {
	p := address
	if u, err := url.Parse(address); err == nil {
		p = u.Path
	}
	if base := path.Base(p); base != "" && base != "." && base != "/" && path.Ext(base) != "" {
		return base
	}
	for ext, t := range map[string]string{".wav": "audio/wav", ".ogg": "audio/ogg", ".m4a": "audio/mp4", ".webm": "audio/webm", ".flac": "audio/flac"} {
		if t == mimeType {
			return "recording" + ext
		}
	}
	return "recording.mp3"
}
