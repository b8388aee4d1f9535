package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEvaluationInvalid matches any *ValidationError.
var ErrEvaluationInvalid = errors.New("evaluation invalid")

// ViolationClass groups violations for the corrective follow-up.
type ViolationClass string

const (
	ClassSchema     ViolationClass = "schema"
	ClassConfidence ViolationClass = "confidence"
	ClassTopicLeak  ViolationClass = "topic_leak"
	ClassContent    ViolationClass = "content"
)

type Violation struct {
	Class   ViolationClass `json:"class"`
	Field   string         `json:"field"`
	Message string         `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Class, v.Field, v.Message)
}

type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "evaluation invalid: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrEvaluationInvalid }

// Classes lists the distinct violation classes in first-seen order.
func (e *ValidationError) Classes() []ViolationClass {
	seen := map[ViolationClass]bool{}
	var out []ViolationClass
	for _, v := range e.Violations {
		if !seen[v.Class] {
			seen[v.Class] = true
			out = append(out, v.Class)
		}
	}
	return out
}

const (
	noteMinRunes     = 6
	noteMaxRunes     = 220
	evidenceMaxRunes = 180
	summaryMinRunes  = 10
	tipMinRunes      = 10
	riskFlagMaxRunes = 80
	topIssuesCount   = 2
)

// Parse strictly decodes a model reply. Code fences and text around the outermost
// JSON object are tolerated; unknown fields and type mismatches are not.
func Parse(raw string) (*Result, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, &ValidationError{Violations: []Violation{{Class: ClassSchema, Field: "$", Message: "no JSON object in reply"}}}
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var r Result
	if err := dec.Decode(&r); err != nil {
		return nil, &ValidationError{Violations: []Violation{{Class: ClassSchema, Field: "$", Message: err.Error()}}}
	}
	return &r, nil
}

func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// Validate checks a parsed result against the rules. It returns nil or a *ValidationError.
func Validate(r Result, rules Rules) error {
	var vs []Violation
	add := func(class ViolationClass, field, format string, args ...any) {
		vs = append(vs, Violation{Class: class, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if r.Unanalyzable {
		add(ClassSchema, "unanalyzable", "field is reserved and must be omitted")
	}

	if len(r.Checklist) != len(rules.Criteria) {
		add(ClassSchema, "checklist", "expected exactly %d items, got %d", len(rules.Criteria), len(r.Checklist))
	}
	for i, item := range r.Checklist {
		field := fmt.Sprintf("checklist[%d]", i)
		if item.Criterion != i+1 {
			add(ClassSchema, field+".criterion", "expected %d, got %d", i+1, item.Criterion)
		}
		switch item.Status {
		case StatusOK, StatusPartial, StatusFail:
		default:
			add(ClassSchema, field+".status", "must be ok, partial or fail, got %q", item.Status)
		}
		if item.Confidence < 0 || item.Confidence > 1 {
			add(ClassConfidence, field+".confidence", "must be within [0,1], got %v", item.Confidence)
		} else if item.Status == StatusOK && item.Confidence < MinOKConfidence {
			add(ClassConfidence, field+".status", "ok requires confidence >= %.2f, got %.2f", MinOKConfidence, item.Confidence)
		}

		noteLen := utf8.RuneCountInString(strings.TrimSpace(item.Note))
		if noteLen < noteMinRunes || noteLen > noteMaxRunes {
			add(ClassContent, field+".note", "length must be %d..%d, got %d", noteMinRunes, noteMaxRunes, noteLen)
		} else if i < len(rules.Criteria) && trivialNote(item.Note, rules.Criteria[i]) {
			add(ClassContent, field+".note", "restates the criterion label instead of describing operator behaviour")
		}
		if n := utf8.RuneCountInString(item.Evidence); n > evidenceMaxRunes {
			add(ClassContent, field+".evidence", "length must be at most %d, got %d", evidenceMaxRunes, n)
		}
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(r.Summary)); n < summaryMinRunes {
		add(ClassContent, "summary", "must be at least %d characters, got %d", summaryMinRunes, n)
	}
	if w := firstMatch(tokens(r.Summary), rules.EvaluativeWords); w != "" {
		add(ClassContent, "summary", "contains evaluative word %q", w)
	}

	if !rules.hasTag(r.Tag) {
		add(ClassSchema, "tag", "must be one of %s, got %q", strings.Join(rules.Tags, ", "), r.Tag)
	}

	if len(r.Coaching.TopIssues) != topIssuesCount {
		add(ClassSchema, "coaching.top_issues", "expected exactly %d items, got %d", topIssuesCount, len(r.Coaching.TopIssues))
	}
	for i, issue := range r.Coaching.TopIssues {
		field := fmt.Sprintf("coaching.top_issues[%d]", i)
		if strings.TrimSpace(issue) == "" {
			add(ClassContent, field, "must not be empty")
			continue
		}
		if stem := topicLeak(issue, rules.TopicBlocklist); stem != "" {
			add(ClassTopicLeak, field, "describes the call topic (%q) instead of operator behaviour", stem)
		}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(r.Coaching.Tip)); n < tipMinRunes {
		add(ClassContent, "coaching.tip", "must be at least %d characters, got %d", tipMinRunes, n)
	}

	for i, flag := range r.RiskFlags {
		n := utf8.RuneCountInString(strings.TrimSpace(flag))
		if n == 0 || n > riskFlagMaxRunes {
			add(ClassContent, fmt.Sprintf("risk_flags[%d]", i), "length must be 1..%d, got %d", riskFlagMaxRunes, n)
		}
	}

	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

var filler = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "to": true, "is": true,
	"was": true, "were": true, "yes": true, "no": true, "ok": true, "done": true, "present": true,
	"operator": true, "criterion": true, "met": true,
	"і": true, "й": true, "та": true, "в": true, "у": true, "на": true, "з": true, "не": true,
	"є": true, "було": true, "так": true, "ні": true, "виконано": true, "оператор": true, "присутнє": true,
}

// trivialNote reports whether a note adds no word beyond the criterion label, its
// aliases and filler. A short verdict like "Не привітався" still carries one.
func trivialNote(note string, c Criterion) bool {
	label := map[string]bool{}
	for _, t := range tokens(c.Label) {
		label[t] = true
	}
	for _, alias := range c.Aliases {
		for _, t := range tokens(alias) {
			label[t] = true
		}
	}

	for _, t := range tokens(note) {
		if !label[t] && !filler[t] {
			return false
		}
	}
	return true
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func firstMatch(toks, words []string) string {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	for _, t := range toks {
		if set[t] {
			return t
		}
	}
	return ""
}

// topicLeak matches blocklist entries as stems so inflected forms are caught.
func topicLeak(issue string, blocklist []string) string {
	for _, t := range tokens(issue) {
		for _, stem := range blocklist {
			if strings.HasPrefix(t, strings.ToLower(stem)) {
				return stem
			}
		}
	}
	return ""
}
