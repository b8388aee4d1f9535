package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
	"github.com/MikeSquared-Agency/callwatch/internal/trust"
)

// Record is one analysed call as written to the call log.
type Record struct {
	ID       uuid.UUID        `json:"id"`
	TS       time.Time        `json:"ts"`
	CallID   string           `json:"callId"`
	Name     string           `json:"name"`
	Phone    string           `json:"phone"`
	Duration int              `json:"duration"`
	Tag      string           `json:"tag"`
	Score    int              `json:"score"`
	Summary  string           `json:"summary"`
	Trust    trust.Triple     `json:"trust"`
	Accepted bool             `json:"accepted"`
	Link     string           `json:"link,omitempty"`
	Analysis evaluator.Result `json:"analysis"`
}

const maxLineBytes = 4 << 20

// CallLog is an append-only JSON-lines file of Records.
type CallLog struct {
	mu   sync.Mutex
	path string
}

func NewCallLog(path string) *CallLog {
	return &CallLog{path: path}
}

func (l *CallLog) Path() string { return l.path }

// Append writes rec as one line.
func (l *CallLog) Append(rec Record) error {
	line, err := marshalLine(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrPersistenceFailed, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrPersistenceFailed, l.path, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("%w: append %s: %v", ErrPersistenceFailed, l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrPersistenceFailed, l.path, err)
	}
	return nil
}

// ReadAll returns every decodable record and the number of lines skipped as malformed.
// A missing file is an empty log.
func (l *CallLog) ReadAll() ([]Record, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// Prune rewrites the log keeping only records at or after cutoff. Malformed lines are dropped.
func (l *CallLog) Prune(cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, skipped, err := l.readLocked()
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	removed := skipped
	for _, rec := range records {
		if rec.TS.Before(cutoff) {
			removed++
			continue
		}
		line, err := marshalLine(rec)
		if err != nil {
			return 0, err
		}
		buf.Write(line)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := replaceFile(l.path, buf.Bytes()); err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *CallLog) readLocked() ([]Record, int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	var (
		records []Record
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", l.path, err)
	}
	return records, skipped, nil
}

func marshalLine(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("%w: marshal record: %v", ErrPersistenceFailed, err)
	}
	return buf.Bytes(), nil
}
