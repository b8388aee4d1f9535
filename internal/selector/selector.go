package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/MikeSquared-Agency/callwatch/internal/bitrix"
)

// ErrSourceUnavailable means the call source could not be paged this tick.
var ErrSourceUnavailable = errors.New("call source unavailable")

// Source is the paginated call feed.
type Source interface {
	Total(ctx context.Context) (int, error)
	List(ctx context.Context, start, limit int) ([]bitrix.Call, error)
}

// SkipReason names why a call was filtered out.
type SkipReason string

const (
	SkipNoRecording SkipReason = "no_recording"
	SkipTooShort    SkipReason = "too_short"
	SkipNotInbound  SkipReason = "not_inbound"
)

type Options struct {
	MinDurationSec int
	OnlyInbound    bool
}

// Selection is the outcome of one fetch.
type Selection struct {
	Candidates []bitrix.Call
	Total      int
	Skipped    map[SkipReason]int
}

type Selector struct {
	source Source
	opts   Options
	logger *slog.Logger
}

func New(source Source, opts Options, logger *slog.Logger) *Selector {
	return &Selector{source: source, opts: opts, logger: logger}
}

// Fetch returns up to limit eligible calls from the most recent page, newest first.
func (s *Selector) Fetch(ctx context.Context, limit int) (Selection, error) {
	if limit <= 0 {
		return Selection{Skipped: map[SkipReason]int{}}, nil
	}

	total, err := s.source.Total(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: total: %v", ErrSourceUnavailable, err)
	}
	start := total - limit
	if start < 0 {
		start = 0
	}

	page, err := s.source.List(ctx, start, limit)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: list from %d: %v", ErrSourceUnavailable, start, err)
	}

	sel := Selection{Total: total, Skipped: map[SkipReason]int{}}
	for _, call := range page {
		if reason, ok := s.Eligible(call); !ok {
			sel.Skipped[reason]++
			continue
		}
		sel.Candidates = append(sel.Candidates, call)
	}

	sort.SliceStable(sel.Candidates, func(i, j int) bool {
		return sel.Candidates[i].StartTime.After(sel.Candidates[j].StartTime)
	})
	if len(sel.Candidates) > limit {
		sel.Candidates = sel.Candidates[:limit]
	}

	if len(sel.Skipped) > 0 {
		s.logger.Info("calls filtered",
			"total", total,
			"page", len(page),
			"no_recording", sel.Skipped[SkipNoRecording],
			"too_short", sel.Skipped[SkipTooShort],
			"not_inbound", sel.Skipped[SkipNotInbound],
		)
	}
	return sel, nil
}

// Eligible applies the filters in order and reports the first one that fails.
func (s *Selector) Eligible(c bitrix.Call) (SkipReason, bool) {
	if c.RecordingAddress == "" {
		return SkipNoRecording, false
	}
	if !c.HasDuration() || c.DurationSeconds <= 0 || c.DurationSeconds < s.opts.MinDurationSec {
		return SkipTooShort, false
	}
	if s.opts.OnlyInbound && c.Direction != bitrix.DirectionInbound {
		return SkipNotInbound, false
	}
	return "", true
}
