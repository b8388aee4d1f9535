package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
	"github.com/MikeSquared-Agency/callwatch/internal/trust"
)

func sampleCard() Card {
	rules := evaluator.DefaultRules()
	return Card{
		CallID:      "externalCall.abc",
		Name:        "Олена <Коваль>",
		Phone:       "+380501234567",
		Link:        "https://example.bitrix24.ua/crm/contact/details/7/",
		Direction:   "inbound",
		Start:       time.Date(2024, 5, 13, 9, 5, 0, 0, time.UTC),
		DurationSec: 95,
		Criteria:    rules.Criteria,
		Trust:       trust.Triple{Transcript: 88, Analysis: 70, Overall: 70},
		Result: evaluator.Result{
			Summary: "Абонент повідомив про відсутність зв'язку & попросив майстра.",
			Tag:     "connection_issue",
			Checklist: []evaluator.ChecklistItem{
				{Criterion: 1, Status: evaluator.StatusOK, Note: "Оператор назвав себе та компанію", Confidence: 0.9},
				{Criterion: 2, Status: evaluator.StatusFail, Note: "Не уточнив номер договору", Confidence: 0.8},
				{Criterion: 3, Status: evaluator.StatusPartial, Note: "Одне уточнююче питання", Confidence: 0.6},
			},
			Coaching:  evaluator.Coaching{TopIssues: []string{"Ідентифікувати абонента"}, Tip: "Питайте номер договору одразу"},
			RiskFlags: []string{"погроза розірвати договір"},
		},
	}
}

func TestFormatCard(t *testing.T) {
	msg := FormatCard(sampleCard())

	firstLine := strings.SplitN(msg, "\n", 2)[0]
	for _, want := range []string{"Олена &lt;Коваль&gt;", "+380501234567", "1хв 35с", "1/8", "довіра 70"} {
		if !strings.Contains(firstLine, want) {
			t.Errorf("expected header line to contain %q, got %q", want, firstLine)
		}
	}

	checks := []string{
		"<code>externalCall.abc</code>",
		"13.05.2024 09:05",
		"вхідний",
		"connection_issue",
		"зв&#39;язку &amp; попросив",
		"✅ 1. <b>Привітання та представлення</b>",
		"❌ 2. <b>Ідентифікація абонента</b>",
		"🟡 3. <b>Виявлення потреби</b>",
		"• Ідентифікувати абонента",
		"💡 Питайте номер договору одразу",
		"погроза розірвати договір",
		"транскрипт 88 · аналіз 70 · загальна 70",
		`<a href="https://example.bitrix24.ua/crm/contact/details/7/">`,
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected card to contain %q", check)
		}
	}
}

func TestFormatCard_Unanalyzable(t *testing.T) {
	c := sampleCard()
	c.Result = evaluator.Sentinel(evaluator.DefaultRules())
	c.Link = ""
	c.DurationSec = -1

	msg := FormatCard(c)
	if !strings.Contains(msg, "аналіз недоступний") {
		t.Errorf("expected unanalyzable notice, got %q", msg)
	}
	if strings.Contains(msg, "Чек-лист") {
		t.Error("sentinel card should not render a checklist")
	}
	if strings.Contains(msg, "<a href") {
		t.Error("card without link should not render an anchor")
	}
	if !strings.Contains(msg, " · ? · 0/8") {
		t.Errorf("expected unknown duration and zero score in header, got %q", msg)
	}
}

func TestFormatCard_LocalTime(t *testing.T) {
	c := sampleCard()
	c.Location = time.FixedZone("EEST", 3*60*60)
	if !strings.Contains(FormatCard(c), "13.05.2024 12:05") {
		t.Error("expected start time rendered in the configured zone")
	}
}

func TestFormatError(t *testing.T) {
	msg := FormatError("call-1", "transcribe", errors.New("whisper: status 500: <html>oops</html>"))

	for _, want := range []string{"<code>call-1</code>", "transcribe", "&lt;html&gt;oops&lt;/html&gt;"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error message to contain %q, got %q", want, msg)
		}
	}
}

func TestFormatError_TruncatesDiagnostic(t *testing.T) {
	long := strings.Repeat("д", MaxDiagnosticRunes+500)
	msg := FormatError("c", "", errors.New(long))

	start := strings.Index(msg, "<pre>") + len("<pre>")
	end := strings.Index(msg, "</pre>")
	diag := msg[start:end]
	if n := utf8.RuneCountInString(diag); n != MaxDiagnosticRunes {
		t.Errorf("expected %d runes including ellipsis, got %d", MaxDiagnosticRunes, n)
	}
	if strings.Contains(msg, "Етап") {
		t.Error("empty stage should be omitted")
	}
}

func TestFormatError_LongEscapedBodyFitsOneMessage(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 60; i++ {
		body.WriteString(`{"error":{"message":"Invalid file format & \"codec\" <unsupported>","type":"invalid_request_error"}}` + "\n")
	}
	msg := FormatError("c1", "transcribe", errors.New("whisper status 400: "+body.String()))

	if n := utf8.RuneCountInString(msg); n > MaxMessageRunes {
		t.Fatalf("message has %d runes, limit %d", n, MaxMessageRunes)
	}
	chunks := Chunk(msg, MaxMessageRunes)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	for _, tag := range []string{"pre", "b", "code"} {
		open, closed := strings.Count(msg, "<"+tag+">"), strings.Count(msg, "</"+tag+">")
		if open != closed {
			t.Errorf("unbalanced <%s>: %d open, %d closed", tag, open, closed)
		}
	}

	diag := msg[strings.Index(msg, "<pre>")+len("<pre>") : strings.Index(msg, "</pre>")]
	diag = strings.TrimSuffix(diag, "…")
	if amp := strings.LastIndex(diag, "&"); amp >= 0 && !strings.Contains(diag[amp:], ";") {
		t.Errorf("diagnostic ends inside an entity: %q", diag[amp:])
	}
	if strings.Contains(diag, "<") || strings.Contains(diag, `"`) {
		t.Error("diagnostic must be escaped")
	}
}

func TestTruncateEscaped(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 4, "abc…"},
		{"ab&amp;cd", 5, "ab…"},
		{"ab&amp;cd", 8, "ab&amp;…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := truncateEscaped(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateEscaped(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
