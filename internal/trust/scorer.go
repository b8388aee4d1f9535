package trust

import (
	"math"
	"strings"

	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
)

const (
	// WordsPerMinute is the speech-rate baseline for expected transcript length.
	WordsPerMinute = 120.0
	// FullTrustRatio is the actual/expected word ratio that already earns 100.
	FullTrustRatio = 0.9
	maxRatio       = 1.2
	// wordsForFullTrust is used when the duration is unknown.
	wordsForFullTrust = 150.0
)

// Triple is the advisory trust metadata attached to every call report. Values are 0..100.
type Triple struct {
	Transcript int `json:"transcript"`
	Analysis   int `json:"analysis"`
	Overall    int `json:"overall"`
}

// StatusWeight returns how much a checklist status contributes to analysis trust.
func StatusWeight(status evaluator.Status) float64 {
	switch status {
	case evaluator.StatusOK:
		return 1.0
	case evaluator.StatusPartial:
		return 0.6
	case evaluator.StatusFail:
		return 0.3
	default:
		return 0
	}
}

// TranscriptTrust penalises transcripts that under-produce words for the call length.
// A durationSec of zero or less means the duration is unknown.
func TranscriptTrust(transcript string, durationSec int) int {
	words := float64(len(strings.Fields(transcript)))

	if durationSec <= 0 {
		return clamp(words / wordsForFullTrust * 100)
	}

	expected := float64(durationSec) / 60.0 * WordsPerMinute
	ratio := words / expected
	if ratio > maxRatio {
		ratio = maxRatio
	}
	return clamp(ratio / FullTrustRatio * 100)
}

// AnalysisTrust averages weight(status) x confidence across the checklist.
func AnalysisTrust(r evaluator.Result) int {
	if r.Unanalyzable || len(r.Checklist) == 0 {
		return 0
	}
	var sum float64
	for _, item := range r.Checklist {
		conf := math.Min(math.Max(item.Confidence, 0), 1)
		sum += StatusWeight(item.Status) * conf
	}
	return clamp(sum / float64(len(r.Checklist)) * 100)
}

// Combine keeps the weaker of the two: trust is never averaged upward.
func Combine(transcript, analysis int) int {
	if transcript < analysis {
		return transcript
	}
	return analysis
}

func Score(transcript string, durationSec int, r evaluator.Result) Triple {
	t := TranscriptTrust(transcript, durationSec)
	a := AnalysisTrust(r)
	return Triple{Transcript: t, Analysis: a, Overall: Combine(t, a)}
}

func clamp(score float64) int {
	s := int(math.Round(score))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
