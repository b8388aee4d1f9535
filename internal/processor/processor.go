package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callwatch/internal/audio"
	"github.com/MikeSquared-Agency/callwatch/internal/bitrix"
	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
	"github.com/MikeSquared-Agency/callwatch/internal/selector"
	"github.com/MikeSquared-Agency/callwatch/internal/store"
	"github.com/MikeSquared-Agency/callwatch/internal/telegram"
	"github.com/MikeSquared-Agency/callwatch/internal/trust"
)

// ErrTickInProgress is returned when a tick is requested while another is running.
var ErrTickInProgress = errors.New("tick already in progress")

type Selector interface {
	Fetch(ctx context.Context, limit int) (selector.Selection, error)
}

type AudioFetcher interface {
	Fetch(ctx context.Context, address string, maxBytes int64) (*audio.Payload, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, payload *audio.Payload, language string) (string, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, transcript string, durationSec int) (evaluator.Outcome, error)
	Rules() evaluator.Rules
}

// Directory resolves CRM display names and deep links.
type Directory interface {
	EntityName(ctx context.Context, ref bitrix.ContactRef) string
	EntityLink(ref bitrix.ContactRef) string
}

type Notifier interface {
	SendText(ctx context.Context, text string) error
}

type Progress interface {
	IsProcessed(id string) bool
	MarkProcessed(id string) error
}

type CallLog interface {
	Append(rec store.Record) error
}

type Mirror interface {
	Insert(ctx context.Context, rec store.Record) (bool, error)
}

type Publisher interface {
	PublishCallAnalyzed(ctx context.Context, rec store.Record) error
}

type Weekly interface {
	MaybeRun(ctx context.Context, now time.Time) (bool, error)
}

// Deps are the pipeline collaborators. Mirror, Publisher and Weekly are optional.
type Deps struct {
	Selector    Selector
	Audio       AudioFetcher
	Transcriber Transcriber
	Evaluator   Evaluator
	Directory   Directory
	Notifier    Notifier
	Progress    Progress
	Log         CallLog
	Mirror      Mirror
	Publisher   Publisher
	Weekly      Weekly
}

type Options struct {
	Limit         int
	MaxAudioBytes int64
	Language      string
	Location      *time.Location
}

// Status is a point-in-time view of the poll loop.
type Status struct {
	Running        bool           `json:"running"`
	Ticks          int            `json:"ticks"`
	LastTickID     string         `json:"last_tick_id,omitempty"`
	LastTickAt     time.Time      `json:"last_tick_at,omitempty"`
	LastTickMillis int64          `json:"last_tick_ms"`
	Processed      int            `json:"processed"`
	Failed         int            `json:"failed"`
	Degraded       int            `json:"degraded"`
	LastSkipped    map[string]int `json:"last_skipped,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// Processor runs one poll tick at a time over the selected candidates.
type Processor struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	tickMu sync.Mutex

	mu     sync.Mutex
	status Status
}

func New(deps Deps, opts Options, logger *slog.Logger) *Processor {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Processor{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Status returns a copy of the current loop status.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if p.status.LastSkipped != nil {
		s.LastSkipped = make(map[string]int, len(p.status.LastSkipped))
		for k, v := range p.status.LastSkipped {
			s.LastSkipped[k] = v
		}
	}
	return s
}

// Tick selects the newest eligible calls and runs each unprocessed one through the
// pipeline. A failing candidate is reported and skipped; only selection failure ends
// the tick early. The weekly aggregate is checked after the candidates.
func (p *Processor) Tick(ctx context.Context) error {
	if !p.tickMu.TryLock() {
		p.logger.Warn("previous tick still running, skipping")
		return ErrTickInProgress
	}
	defer p.tickMu.Unlock()

	tickID := uuid.NewString()
	started := p.now()
	logger := p.logger.With("tick_id", tickID)

	p.mu.Lock()
	p.status.Running = true
	p.status.Ticks++
	p.status.LastTickID = tickID
	p.status.LastTickAt = started
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.status.Running = false
		p.status.LastTickMillis = p.now().Sub(started).Milliseconds()
		p.mu.Unlock()
	}()

	sel, err := p.deps.Selector.Fetch(ctx, p.opts.Limit)
	if err != nil {
		logger.Error("call selection failed", "error", err)
		p.recordError(err)
		return fmt.Errorf("select calls: %w", err)
	}

	skipped := make(map[string]int, len(sel.Skipped))
	for reason, n := range sel.Skipped {
		skipped[string(reason)] = n
	}
	p.mu.Lock()
	p.status.LastSkipped = skipped
	p.mu.Unlock()

	// A started call runs to completion on shutdown so its card and progress mark
	// are not lost; cancellation only stops the next candidate from starting.
	callCtx := context.WithoutCancel(ctx)

	var processed, failed int
	for _, call := range sel.Candidates {
		if p.deps.Progress.IsProcessed(progressKey(call)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			logger.Info("tick cancelled", "next_call_id", call.CallID)
			break
		}

		stage, err := p.processCall(callCtx, logger, call)
		if err != nil {
			failed++
			logger.Error("call processing failed", "call_id", call.CallID, "stage", stage, "error", err)
			p.recordError(err)
			if nerr := p.deps.Notifier.SendText(callCtx, telegram.FormatError(call.CallID, stage, err)); nerr != nil {
				logger.Error("failed to report processing error", "call_id", call.CallID, "error", nerr)
			}
			continue
		}
		processed++
	}

	p.mu.Lock()
	p.status.Processed += processed
	p.status.Failed += failed
	p.mu.Unlock()

	logger.Info("tick complete",
		"candidates", len(sel.Candidates),
		"processed", processed,
		"failed", failed,
		"total", sel.Total,
	)

	if p.deps.Weekly != nil && ctx.Err() == nil {
		if _, err := p.deps.Weekly.MaybeRun(ctx, p.now()); err != nil {
			logger.Error("weekly report failed", "error", err)
		}
	}
	return nil
}

// processCall runs the per-call stages. Panics are converted into errors so one bad
// call cannot take down the tick.
func (p *Processor) processCall(ctx context.Context, logger *slog.Logger, call bitrix.Call) (stage string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	logger = logger.With("call_id", call.CallID)

	stage = "audio"
	payload, err := p.deps.Audio.Fetch(ctx, call.RecordingAddress, p.opts.MaxAudioBytes)
	if err != nil {
		return stage, err
	}
	logger.Debug("audio fetched", "bytes", payload.SizeBytes, "mime", payload.MimeType)

	stage = "transcribe"
	transcript, err := p.deps.Transcriber.Transcribe(ctx, payload, p.opts.Language)
	if err != nil {
		return stage, err
	}

	stage = "evaluate"
	outcome, err := p.deps.Evaluator.Evaluate(ctx, transcript, call.DurationSeconds)
	if err != nil {
		return stage, err
	}
	if !outcome.Accepted {
		p.mu.Lock()
		p.status.Degraded++
		p.mu.Unlock()
		logger.Warn("evaluation degraded to unanalyzable", "attempts", outcome.Attempts, "violations", len(outcome.Violations))
	}

	score := trust.Score(transcript, call.DurationSeconds, outcome.Result)

	stage = "contact"
	name := p.deps.Directory.EntityName(ctx, call.Contact)
	link := p.deps.Directory.EntityLink(call.Contact)
	phone := call.PhoneNumber
	if phone == "" {
		phone = bitrix.Placeholder
	}

	stage = "notify"
	card := telegram.FormatCard(telegram.Card{
		CallID:      call.CallID,
		Name:        name,
		Phone:       phone,
		Link:        link,
		Direction:   string(call.Direction),
		Start:       call.StartTime,
		DurationSec: call.DurationSeconds,
		Result:      outcome.Result,
		Trust:       score,
		Criteria:    p.deps.Evaluator.Rules().Criteria,
		Location:    p.opts.Location,
	})
	if err := p.deps.Notifier.SendText(ctx, card); err != nil {
		return stage, err
	}

	rec := store.Record{
		ID:       uuid.New(),
		TS:       p.now().UTC(),
		CallID:   call.CallID,
		Name:     name,
		Phone:    phone,
		Duration: call.DurationSeconds,
		Tag:      outcome.Result.Tag,
		Score:    outcome.Result.Score(),
		Summary:  outcome.Result.Summary,
		Trust:    score,
		Accepted: outcome.Accepted,
		Link:     link,
		Analysis: outcome.Result,
	}
	p.persist(ctx, logger, rec)

	if err := p.deps.Progress.MarkProcessed(progressKey(call)); err != nil {
		logger.Error("failed to persist progress", "error", err)
	}

	logger.Info("call processed",
		"score", rec.Score,
		"tag", rec.Tag,
		"trust", score.Overall,
		"accepted", outcome.Accepted,
	)
	return "", nil
}

// persist writes the record to the log and the optional sinks. Failures are logged only;
// the card has already been delivered.
func (p *Processor) persist(ctx context.Context, logger *slog.Logger, rec store.Record) {
	if err := p.deps.Log.Append(rec); err != nil {
		logger.Error("failed to append call log", "error", err)
	}
	if p.deps.Mirror != nil {
		if inserted, err := p.deps.Mirror.Insert(ctx, rec); err != nil {
			logger.Error("failed to mirror call record", "error", err)
		} else if !inserted {
			logger.Debug("call record already mirrored")
		}
	}
	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.PublishCallAnalyzed(ctx, rec); err != nil {
			logger.Warn("failed to publish call analyzed", "error", err)
		}
	}
}

// progressKey prefers the telephony CALL_ID and falls back to the statistics row id.
func progressKey(call bitrix.Call) string {
	if call.CallID != "" {
		return call.CallID
	}
	return call.ID
}

func (p *Processor) recordError(err error) {
	p.mu.Lock()
	p.status.LastError = err.Error()
	p.mu.Unlock()
}
