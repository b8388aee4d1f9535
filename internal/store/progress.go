package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

const processedKey = "processedIds"

// Progress is the bounded window of processed call ids, oldest first.
// Other keys found in the state file are preserved on write.
type Progress struct {
	mu    sync.Mutex
	path  string
	limit int
	ids   []string
	set   map[string]struct{}
	extra map[string]json.RawMessage
}

// OpenProgress loads the window from path. limit <= 0 means 500.
func OpenProgress(path string, limit int) (*Progress, error) {
	if limit <= 0 {
		limit = 500
	}
	p := &Progress{
		path:  path,
		limit: limit,
		set:   map[string]struct{}{},
		extra: map[string]json.RawMessage{},
	}

	if err := ReadJSON(path, &p.extra); err != nil {
		return nil, err
	}
	if raw, ok := p.extra[processedKey]; ok {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("parse %s in %s: %w", processedKey, path, err)
		}
		for _, id := range ids {
			p.add(id)
		}
		p.evict()
	}
	return p, nil
}

func (p *Progress) IsProcessed(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.set[id]
	return ok
}

// MarkProcessed appends id, evicts the oldest ids beyond the limit and persists.
// Marking an id already in the window is a no-op. On a write failure the id stays
// marked in memory and the error wraps ErrPersistenceFailed.
func (p *Progress) MarkProcessed(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.add(id) {
		return nil
	}
	p.evict()
	return p.persist()
}

// IDs returns a copy of the window in insertion order.
func (p *Progress) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func (p *Progress) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

func (p *Progress) add(id string) bool {
	if _, ok := p.set[id]; ok {
		return false
	}
	p.set[id] = struct{}{}
	p.ids = append(p.ids, id)
	return true
}

func (p *Progress) evict() {
	for len(p.ids) > p.limit {
		delete(p.set, p.ids[0])
		p.ids = p.ids[1:]
	}
}

func (p *Progress) persist() error {
	raw, err := json.Marshal(p.ids)
	if err != nil {
		return fmt.Errorf("%w: marshal ids: %v", ErrPersistenceFailed, err)
	}
	p.extra[processedKey] = raw
	return WriteJSON(p.path, p.extra)
}
