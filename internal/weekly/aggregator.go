package weekly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/callwatch/internal/store"
)

// ErrAttachmentsFailed means the report text reached the chat but a CSV or XLSX
// attachment did not.
var ErrAttachmentsFailed = errors.New("weekly attachments not delivered")

// Sender delivers the report to the notification channel.
type Sender interface {
	SendText(ctx context.Context, text string) error
	SendDocument(ctx context.Context, filename string, data []byte, caption string) error
}

// Publisher is told about every report sent on schedule. Optional.
type Publisher interface {
	PublishWeeklySent(ctx context.Context, s Summary) error
}

type Options struct {
	Schedule      Schedule
	StatePath     string
	RetentionDays int
	TopN          int
}

type state struct {
	LastSentWeekKey string `json:"lastSentWeekKey"`
}

type Aggregator struct {
	log       *store.CallLog
	sender    Sender
	publisher Publisher
	opts      Options
	logger    *slog.Logger
}

func New(log *store.CallLog, sender Sender, opts Options, logger *slog.Logger) *Aggregator {
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	return &Aggregator{log: log, sender: sender, opts: opts, logger: logger}
}

func (a *Aggregator) SetPublisher(p Publisher) { a.publisher = p }

// LastSentWeekKey reads the persisted schedule state.
func (a *Aggregator) LastSentWeekKey() (string, error) {
	var st state
	if err := store.ReadJSON(a.opts.StatePath, &st); err != nil {
		return "", err
	}
	return st.LastSentWeekKey, nil
}

// MaybeRun sends the report when the schedule fires, then records the week and prunes
// old log entries. When not firing it neither sends nor writes anything.
func (a *Aggregator) MaybeRun(ctx context.Context, now time.Time) (bool, error) {
	last, err := a.LastSentWeekKey()
	if err != nil {
		return false, fmt.Errorf("load weekly state: %w", err)
	}
	if !ShouldFire(now, last, a.opts.Schedule) {
		return false, nil
	}

	summary, err := a.Run(ctx, now)
	switch {
	case errors.Is(err, ErrAttachmentsFailed):
		// Retrying would post the text a second time for the same week.
		a.logger.Warn("weekly report sent without attachments", "week", summary.WeekKey, "error", err)
	case err != nil:
		return false, err
	}

	key := WeekKey(now.In(a.opts.Schedule.location()))
	if err := store.WriteJSON(a.opts.StatePath, state{LastSentWeekKey: key}); err != nil {
		return true, fmt.Errorf("save weekly state: %w", err)
	}

	if a.opts.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -a.opts.RetentionDays)
		removed, err := a.log.Prune(cutoff)
		if err != nil {
			a.logger.Error("call log prune failed", "error", err)
		} else if removed > 0 {
			a.logger.Info("call log pruned", "removed", removed, "cutoff", cutoff)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishWeeklySent(ctx, summary); err != nil {
			a.logger.Warn("failed to publish weekly event", "error", err)
		}
	}
	return true, nil
}

// Run builds and sends the report for the 7 days ending at now without touching
// schedule state.
func (a *Aggregator) Run(ctx context.Context, now time.Time) (Summary, error) {
	records, skipped, err := a.log.ReadAll()
	if err != nil {
		return Summary{}, fmt.Errorf("read call log: %w", err)
	}
	if skipped > 0 {
		a.logger.Warn("malformed call log lines skipped", "count", skipped)
	}

	loc := a.opts.Schedule.location()
	summary := Summarize(records, now, a.opts.TopN)
	summary.WeekKey = WeekKey(now.In(loc))

	if err := a.sender.SendText(ctx, FormatReport(summary, loc)); err != nil {
		return summary, fmt.Errorf("send weekly report: %w", err)
	}

	if summary.Count > 0 {
		csvData, err := CSV(summary.Records)
		if err != nil {
			return summary, fmt.Errorf("%w: %w", ErrAttachmentsFailed, err)
		}
		if err := a.sender.SendDocument(ctx, "calls_"+summary.WeekKey+".csv", csvData, "CSV "+summary.WeekKey); err != nil {
			return summary, fmt.Errorf("%w: send csv: %w", ErrAttachmentsFailed, err)
		}

		xlsxData, err := XLSX(summary)
		if err != nil {
			return summary, fmt.Errorf("%w: %w", ErrAttachmentsFailed, err)
		}
		if err := a.sender.SendDocument(ctx, "calls_"+summary.WeekKey+".xlsx", xlsxData, "XLSX "+summary.WeekKey); err != nil {
			return summary, fmt.Errorf("%w: send xlsx: %w", ErrAttachmentsFailed, err)
		}
	}

	a.logger.Info("weekly report sent",
		"week", summary.WeekKey,
		"calls", summary.Count,
		"mean_score", summary.MeanScore,
	)
	return summary, nil
}
