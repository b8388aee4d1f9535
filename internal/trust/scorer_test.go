package trust

import (
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("слово ", n))
}

func TestStatusWeight(t *testing.T) {
	tests := []struct {
		status evaluator.Status
		want   float64
	}{
		{evaluator.StatusOK, 1.0},
		{evaluator.StatusPartial, 0.6},
		{evaluator.StatusFail, 0.3},
		{"banana", 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := StatusWeight(tt.status); got != tt.want {
				t.Errorf("StatusWeight(%q) = %f, want %f", tt.status, got, tt.want)
			}
		})
	}
}

func TestTranscriptTrust(t *testing.T) {
	tests := []struct {
		name     string
		words    int
		duration int
		want     int
	}{
		{"no duration, empty", 0, 0, 0},
		{"no duration, 75 words", 75, 0, 50},
		{"no duration, capped", 400, 0, 100},
		{"unknown duration marker", 150, -1, 100},
		{"120s, 50 words", 50, 120, 23},
		{"60s, 108 words hits full ratio", 108, 60, 100},
		{"60s, 60 words", 60, 60, 56},
		{"60s, over-production capped", 500, 60, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TranscriptTrust(words(tt.words), tt.duration); got != tt.want {
				t.Errorf("TranscriptTrust(%d words, %ds) = %d, want %d", tt.words, tt.duration, got, tt.want)
			}
		})
	}
}

func TestTranscriptTrust_UnderProductionIsPenalised(t *testing.T) {
	if got := TranscriptTrust(words(50), 120); got >= 50 {
		t.Errorf("expected well below 50 for 50 words in 120s, got %d", got)
	}
}

func checklist(status evaluator.Status, conf float64) []evaluator.ChecklistItem {
	items := make([]evaluator.ChecklistItem, 8)
	for i := range items {
		items[i] = evaluator.ChecklistItem{Criterion: i + 1, Status: status, Confidence: conf}
	}
	return items
}

func TestAnalysisTrust(t *testing.T) {
	mixed := checklist(evaluator.StatusOK, 1.0)
	for i := 4; i < 8; i++ {
		mixed[i] = evaluator.ChecklistItem{Criterion: i + 1, Status: evaluator.StatusFail, Confidence: 1.0}
	}

	tests := []struct {
		name   string
		result evaluator.Result
		want   int
	}{
		{"all ok full confidence", evaluator.Result{Checklist: checklist(evaluator.StatusOK, 1.0)}, 100},
		{"all ok 0.8", evaluator.Result{Checklist: checklist(evaluator.StatusOK, 0.8)}, 80},
		{"all partial 0.5", evaluator.Result{Checklist: checklist(evaluator.StatusPartial, 0.5)}, 30},
		{"half ok half fail", evaluator.Result{Checklist: mixed}, 65},
		{"sentinel", evaluator.Sentinel(evaluator.DefaultRules()), 0},
		{"empty checklist", evaluator.Result{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnalysisTrust(tt.result); got != tt.want {
				t.Errorf("AnalysisTrust = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		t, a, want int
	}{
		{70, 40, 40},
		{100, 100, 100},
		{10, 90, 10},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Combine(tt.t, tt.a); got != tt.want {
			t.Errorf("Combine(%d, %d) = %d, want %d", tt.t, tt.a, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	r := evaluator.Result{Checklist: checklist(evaluator.StatusOK, 0.9)}
	got := Score(words(50), 120, r)

	if got.Transcript != 23 || got.Analysis != 90 || got.Overall != 23 {
		t.Errorf("unexpected triple %+v", got)
	}
}
