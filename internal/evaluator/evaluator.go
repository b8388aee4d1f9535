package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/callwatch/internal/anthropic"
)

const (
	maxAttempts     = 2
	maxTokens       = 4096
	truncatedMarker = "\n[… transcript truncated …]"
)

// Completer is the generative model the evaluator talks to.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

type Evaluator struct {
	llm     Completer
	rules   Rules
	charCap int
	logger  *slog.Logger
}

func New(llm Completer, rules Rules, charCap int, logger *slog.Logger) *Evaluator {
	return &Evaluator{llm: llm, rules: rules, charCap: charCap, logger: logger}
}

func (e *Evaluator) Rules() Rules { return e.rules }

// Evaluate asks the model for a structured evaluation, retrying once with a corrective
// follow-up when validation fails. Model transport errors are returned; an output that
// fails validation twice yields the sentinel with Accepted=false.
func (e *Evaluator) Evaluate(ctx context.Context, transcript string, durationSec int) (Outcome, error) {
	if strings.TrimSpace(transcript) == "" {
		return Outcome{Result: Sentinel(e.rules)}, nil
	}

	text, segments := Truncate(transcript, e.charCap)
	messages := []anthropic.Message{
		{Role: "user", Content: buildUserPrompt(e.rules, text, segments, durationSec)},
	}

	var violations []Violation
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := e.llm.Complete(ctx, systemPrompt, messages, maxTokens)
		switch {
		case errors.Is(err, anthropic.ErrOutputTruncated):
			// Cut-off JSON fails validation below and earns the corrective retry.
			e.logger.Warn("evaluation output truncated", "attempt", attempt, "max_tokens", maxTokens)
		case err != nil:
			return Outcome{}, fmt.Errorf("evaluation attempt %d: %w", attempt, err)
		}

		result, err := e.check(raw)
		if err == nil {
			e.logger.Info("evaluation accepted", "attempt", attempt, "score", result.Score(), "tag", result.Tag)
			return Outcome{Result: *result, Accepted: true, Attempts: attempt}, nil
		}

		var verr *ValidationError
		if !errors.As(err, &verr) {
			return Outcome{}, err
		}
		violations = verr.Violations
		e.logger.Warn("evaluation rejected",
			"attempt", attempt,
			"classes", verr.Classes(),
			"violations", len(verr.Violations),
		)

		if attempt < maxAttempts {
			messages = append(messages,
				anthropic.Message{Role: "assistant", Content: raw},
				anthropic.Message{Role: "user", Content: correctivePrompt(verr)},
			)
		}
	}

	return Outcome{Result: Sentinel(e.rules), Accepted: false, Attempts: maxAttempts, Violations: violations}, nil
}

func (e *Evaluator) check(raw string) (*Result, error) {
	result, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(*result, e.rules); err != nil {
		return nil, err
	}
	if result.Facts == nil {
		result.Facts = map[string]any{}
	}
	if result.RiskFlags == nil {
		result.RiskFlags = []string{}
	}
	return result, nil
}

// Truncate clips transcript to charCap runes plus a marker. When clipped it also returns
// opening, middle and closing segments of the full transcript, each at most charCap/3 runes.
func Truncate(transcript string, charCap int) (string, []string) {
	runes := []rune(transcript)
	if charCap <= 0 || len(runes) <= charCap {
		return transcript, nil
	}

	seg := charCap / 3
	mid := len(runes)/2 - seg/2
	segments := []string{
		string(runes[:seg]),
		string(runes[mid : mid+seg]),
		string(runes[len(runes)-seg:]),
	}
	return string(runes[:charCap]) + truncatedMarker, segments
}
