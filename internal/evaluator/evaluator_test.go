package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/callwatch/internal/anthropic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLLM struct {
	replies []string
	errs    []error
	err     error
	calls   int
	last    []anthropic.Message
}

func (f *fakeLLM) Complete(_ context.Context, _ string, messages []anthropic.Message, _ int) (string, error) {
	f.calls++
	f.last = append([]anthropic.Message(nil), messages...)
	if f.err != nil {
		return "", f.err
	}
	reply := f.replies[len(f.replies)-1]
	if f.calls <= len(f.replies) {
		reply = f.replies[f.calls-1]
	}
	var err error
	if f.calls <= len(f.errs) {
		err = f.errs[f.calls-1]
	}
	return reply, err
}

func validResult() Result {
	items := make([]ChecklistItem, 8)
	for i := range items {
		items[i] = ChecklistItem{
			Criterion:  i + 1,
			Status:     StatusOK,
			Note:       fmt.Sprintf("Operator asked the caller follow-up question %d", i+1),
			Evidence:   "Чим можу допомогти?",
			Confidence: 0.9,
		}
	}
	return Result{
		Facts:     map[string]any{"reason": "no signal since morning"},
		Checklist: items,
		Summary:   "Customer reported no signal; operator scheduled a technician visit.",
		Tag:       "connection_issue",
		Coaching: Coaching{
			TopIssues: []string{"Did not confirm the caller's name", "Interrupted the customer twice"},
			Tip:       "Summarise the agreed actions before ending the call.",
		},
		RiskFlags: []string{"customer mentioned switching provider"},
	}
}

func toJSON(t *testing.T, r Result) string {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return string(b)
}

func TestValidate_AcceptsValidResult(t *testing.T) {
	assert.NoError(t, Validate(validResult(), DefaultRules()))
}

func TestValidate_ChecklistLength(t *testing.T) {
	for _, n := range []int{7, 9} {
		r := validResult()
		if n < 8 {
			r.Checklist = r.Checklist[:n]
		} else {
			extra := r.Checklist[7]
			extra.Criterion = 9
			r.Checklist = append(r.Checklist, extra)
		}
		err := Validate(r, DefaultRules())
		require.Error(t, err, "length %d", n)
		assert.ErrorIs(t, err, ErrEvaluationInvalid)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Classes(), ClassSchema)
	}
}

func TestValidate_OKRequiresConfidence(t *testing.T) {
	r := validResult()
	r.Checklist[2].Confidence = 0.5
	err := Validate(r, DefaultRules())
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []ViolationClass{ClassConfidence}, verr.Classes())

	r.Checklist[2].Confidence = 0.9
	assert.NoError(t, Validate(r, DefaultRules()))

	r.Checklist[2].Status = StatusPartial
	r.Checklist[2].Confidence = 0.5
	assert.NoError(t, Validate(r, DefaultRules()))
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Result)
		class  ViolationClass
	}{
		{"criterion out of order", func(r *Result) { r.Checklist[0].Criterion = 2 }, ClassSchema},
		{"unknown status", func(r *Result) { r.Checklist[1].Status = "maybe" }, ClassSchema},
		{"confidence above one", func(r *Result) { r.Checklist[1].Confidence = 1.5 }, ClassConfidence},
		{"note too short", func(r *Result) { r.Checklist[3].Note = "ok" }, ClassContent},
		{"note too long", func(r *Result) { r.Checklist[3].Note = strings.Repeat("слово ", 40) }, ClassContent},
		{"note restates label", func(r *Result) { r.Checklist[0].Note = "Greeting and introduction" }, ClassContent},
		{"note restates alias", func(r *Result) { r.Checklist[0].Note = "Привітання та представлення: так" }, ClassContent},
		{"note paraphrases label", func(r *Result) { r.Checklist[7].Note = "The closing was done" }, ClassContent},
		{"evidence too long", func(r *Result) { r.Checklist[4].Evidence = strings.Repeat("x", 181) }, ClassContent},
		{"summary too short", func(r *Result) { r.Summary = "short" }, ClassContent},
		{"summary evaluative", func(r *Result) { r.Summary = "The operator did a good job with the caller." }, ClassContent},
		{"summary evaluative uk", func(r *Result) { r.Summary = "Оператор відпрацював відмінно, клієнт задоволений." }, ClassContent},
		{"unknown tag", func(r *Result) { r.Tag = "sales" }, ClassSchema},
		{"one top issue", func(r *Result) { r.Coaching.TopIssues = r.Coaching.TopIssues[:1] }, ClassSchema},
		{"empty top issue", func(r *Result) { r.Coaching.TopIssues[1] = "  " }, ClassContent},
		{"topic leak", func(r *Result) { r.Coaching.TopIssues[0] = "Customer has slow internet" }, ClassTopicLeak},
		{"topic leak inflected uk", func(r *Result) { r.Coaching.TopIssues[1] = "Питання щодо оплати рахунку" }, ClassTopicLeak},
		{"tip too short", func(r *Result) { r.Coaching.Tip = "be nicer" }, ClassContent},
		{"empty risk flag", func(r *Result) { r.RiskFlags = []string{""} }, ClassContent},
		{"long risk flag", func(r *Result) { r.RiskFlags = []string{strings.Repeat("r", 81)} }, ClassContent},
		{"reserved field", func(r *Result) { r.Unanalyzable = true }, ClassSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validResult()
			r.Checklist = append([]ChecklistItem(nil), r.Checklist...)
			r.Coaching.TopIssues = append([]string(nil), r.Coaching.TopIssues...)
			tt.mutate(&r)

			err := Validate(r, DefaultRules())
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Classes(), tt.class)
		})
	}
}

func TestValidate_ShortBehaviouralNotes(t *testing.T) {
	notes := map[int]string{
		0: "Не привітався.",
		1: "Не уточнив договір",
		7: "Closing abrupt",
	}
	for i, note := range notes {
		r := validResult()
		r.Checklist = append([]ChecklistItem(nil), r.Checklist...)
		r.Checklist[i].Note = note
		r.Checklist[i].Status = StatusFail
		assert.NoError(t, Validate(r, DefaultRules()), note)
	}
}

func TestParse(t *testing.T) {
	good := toJSON(t, validResult())

	r, err := Parse("```json\n" + good + "\n```")
	require.NoError(t, err)
	assert.Len(t, r.Checklist, 8)

	r, err = Parse("Here is the evaluation:\n" + good + "\nThanks.")
	require.NoError(t, err)
	assert.Equal(t, "connection_issue", r.Tag)

	_, err = Parse(`{"checklist": [], "sentiment": "positive"}`)
	assert.ErrorIs(t, err, ErrEvaluationInvalid)

	_, err = Parse(`{"checklist": "none"}`)
	assert.ErrorIs(t, err, ErrEvaluationInvalid)

	_, err = Parse("I cannot evaluate this call.")
	assert.ErrorIs(t, err, ErrEvaluationInvalid)
}

func TestEvaluate_EmptyTranscriptSkipsModel(t *testing.T) {
	llm := &fakeLLM{}
	out, err := New(llm, DefaultRules(), 1000, discardLogger()).Evaluate(context.Background(), "   ", 60)
	require.NoError(t, err)

	assert.Equal(t, 0, llm.calls)
	assert.False(t, out.Accepted)
	assert.True(t, out.Result.Unanalyzable)
	assert.Equal(t, "other", out.Result.Tag)
	assert.Empty(t, out.Result.Checklist)
	assert.Equal(t, 0, out.Result.Score())
}

func TestEvaluate_AcceptedFirstAttempt(t *testing.T) {
	llm := &fakeLLM{replies: []string{toJSON(t, validResult())}}
	out, err := New(llm, DefaultRules(), 1000, discardLogger()).Evaluate(context.Background(), "Оператор: Добрий день!", 60)
	require.NoError(t, err)

	assert.True(t, out.Accepted)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, 8, out.Result.Score())
}

func TestEvaluate_RetryRecovers(t *testing.T) {
	short := validResult()
	short.Checklist = short.Checklist[:7]

	llm := &fakeLLM{replies: []string{toJSON(t, short), toJSON(t, validResult())}}
	out, err := New(llm, DefaultRules(), 1000, discardLogger()).Evaluate(context.Background(), "Оператор: Добрий день!", 60)
	require.NoError(t, err)

	assert.True(t, out.Accepted)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, llm.calls)

	require.Len(t, llm.last, 3)
	assert.Equal(t, "assistant", llm.last[1].Role)
	assert.Equal(t, "user", llm.last[2].Role)
	assert.Contains(t, llm.last[2].Content, "schema")
}

func TestEvaluate_TwoFailuresYieldSentinel(t *testing.T) {
	bad := validResult()
	bad.Checklist[0].Confidence = 0.4

	llm := &fakeLLM{replies: []string{toJSON(t, bad), "not json at all"}}
	out, err := New(llm, DefaultRules(), 1000, discardLogger()).Evaluate(context.Background(), "Оператор: Добрий день!", 60)
	require.NoError(t, err)

	assert.False(t, out.Accepted)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, llm.calls)
	assert.True(t, out.Result.Unanalyzable)
	assert.Equal(t, "other", out.Result.Tag)
	assert.NotEmpty(t, out.Violations)
	assert.Contains(t, llm.last[2].Content, "confidence")
}

func TestEvaluate_TransportErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection reset")}
	_, err := New(llm, DefaultRules(), 1000, discardLogger()).Evaluate(context.Background(), "hello", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEvaluationInvalid)
	assert.Equal(t, 1, llm.calls)
}

func TestEvaluate_TruncatedOutputGetsCorrectiveRetry(t *testing.T) {
	llm := &fakeLLM{
		replies: []string{`{"facts": {"reason": "no sig`, toJSON(t, validResult())},
		errs:    []error{anthropic.ErrOutputTruncated},
	}
	out, err := New(llm, DefaultRules(), 1000, discardLogger()).Evaluate(context.Background(), "Оператор: Добрий день!", 60)
	require.NoError(t, err)

	assert.True(t, out.Accepted)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, llm.last, 3)
	assert.Equal(t, `{"facts": {"reason": "no sig`, llm.last[1].Content)
}

func TestTruncate(t *testing.T) {
	text, segs := Truncate("short transcript", 100)
	assert.Equal(t, "short transcript", text)
	assert.Nil(t, segs)

	long := strings.Repeat("а", 100) + strings.Repeat("б", 100) + strings.Repeat("в", 100)
	text, segs = Truncate(long, 90)

	assert.True(t, strings.HasSuffix(text, truncatedMarker))
	assert.Equal(t, 90, utf8.RuneCountInString(strings.TrimSuffix(text, truncatedMarker)))
	require.Len(t, segs, 3)
	for _, s := range segs {
		assert.Equal(t, 30, utf8.RuneCountInString(s))
	}
	assert.Equal(t, strings.Repeat("а", 30), segs[0])
	assert.Equal(t, strings.Repeat("б", 30), segs[1])
	assert.Equal(t, strings.Repeat("в", 30), segs[2])
}

func TestEvaluate_TruncatedPromptCarriesSegments(t *testing.T) {
	llm := &fakeLLM{replies: []string{toJSON(t, validResult())}}
	long := "ПОЧАТОК " + strings.Repeat("текст ", 500) + " КІНЕЦЬ"

	_, err := New(llm, DefaultRules(), 300, discardLogger()).Evaluate(context.Background(), long, 120)
	require.NoError(t, err)

	prompt := llm.last[0].Content
	assert.Contains(t, prompt, "OPENING")
	assert.Contains(t, prompt, "КІНЕЦЬ")
	assert.Contains(t, prompt, "Call duration: 120 seconds")
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Len(t, rules.Criteria, 8)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tags: [billing, other, sales]\nevaluative_words: [superb]\n"), 0o644))

	rules, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "other", "sales"}, rules.Tags)
	assert.Equal(t, []string{"superb"}, rules.EvaluativeWords)
	assert.Len(t, rules.Criteria, 8)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("criteria:\n  - key: one\n    label: One\n"), 0o644))
	_, err = LoadRules(bad)
	assert.Error(t, err)

	noCatchAll := filepath.Join(t.TempDir(), "tags.yaml")
	require.NoError(t, os.WriteFile(noCatchAll, []byte("tags: [billing]\n"), 0o644))
	_, err = LoadRules(noCatchAll)
	assert.Error(t, err)
}
