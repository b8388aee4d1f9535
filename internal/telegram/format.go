package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
	"github.com/MikeSquared-Agency/callwatch/internal/trust"
)

// MaxDiagnosticRunes bounds the error detail included in an operator message.
const MaxDiagnosticRunes = 3500

// Card is everything shown for one analysed call.
type Card struct {
	CallID      string
	Name        string
	Phone       string
	Link        string
	Direction   string
	Start       time.Time
	DurationSec int
	Result      evaluator.Result
	Trust       trust.Triple
	Criteria    []evaluator.Criterion
	Location    *time.Location
}

var statusIcon = map[evaluator.Status]string{
	evaluator.StatusOK:      "✅",
	evaluator.StatusPartial: "🟡",
	evaluator.StatusFail:    "❌",
}

var directionLabel = map[string]string{
	"inbound":  "вхідний",
	"outbound": "вихідний",
}

// FormatCard renders the per-call report. The first line doubles as the notification preview.
func FormatCard(c Card) string {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	e := html.EscapeString

	fmt.Fprintf(&sb, "☎️ <b>%s</b> · %s · %s · %d/8 · довіра %d\n\n",
		e(c.Name), e(c.Phone), formatDuration(c.DurationSec), c.Result.Score(), c.Trust.Overall)

	fmt.Fprintf(&sb, "<b>CALL_ID:</b> <code>%s</code>\n", e(c.CallID))
	if !c.Start.IsZero() {
		fmt.Fprintf(&sb, "<b>Початок:</b> %s\n", c.Start.In(loc).Format("02.01.2006 15:04"))
	}
	if label, ok := directionLabel[c.Direction]; ok {
		fmt.Fprintf(&sb, "<b>Напрям:</b> %s\n", label)
	}
	fmt.Fprintf(&sb, "<b>Тема:</b> %s\n", e(c.Result.Tag))

	if c.Result.Unanalyzable {
		sb.WriteString("\n⚠️ Автоматичний аналіз недоступний для цього дзвінка.\n")
	} else {
		fmt.Fprintf(&sb, "<b>Підсумок:</b> %s\n", e(c.Result.Summary))

		sb.WriteString("\n<b>Чек-лист</b>\n")
		for _, item := range c.Result.Checklist {
			fmt.Fprintf(&sb, "%s %d. <b>%s</b>: %s\n", statusIcon[item.Status], item.Criterion, e(criterionName(c.Criteria, item.Criterion)), e(item.Note))
		}

		sb.WriteString("\n<b>Коучинг</b>\n")
		for _, issue := range c.Result.Coaching.TopIssues {
			fmt.Fprintf(&sb, "• %s\n", e(issue))
		}
		if c.Result.Coaching.Tip != "" {
			fmt.Fprintf(&sb, "💡 %s\n", e(c.Result.Coaching.Tip))
		}

		if len(c.Result.RiskFlags) > 0 {
			flags := make([]string, len(c.Result.RiskFlags))
			for i, f := range c.Result.RiskFlags {
				flags[i] = e(f)
			}
			fmt.Fprintf(&sb, "\n🚩 <b>Ризики:</b> %s\n", strings.Join(flags, "; "))
		}
	}

	fmt.Fprintf(&sb, "\n<b>Довіра:</b> транскрипт %d · аналіз %d · загальна %d\n",
		c.Trust.Transcript, c.Trust.Analysis, c.Trust.Overall)
	if c.Link != "" {
		fmt.Fprintf(&sb, "<a href=\"%s\">Відкрити в CRM</a>", e(c.Link))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatError renders an operator-facing failure for one call. The escaped diagnostic
// is cut so the whole message fits one Telegram message and <pre> stays balanced.
func FormatError(callID, stage string, err error) string {
	diag := "unknown error"
	if err != nil {
		diag = err.Error()
	}

	var sb strings.Builder
	sb.WriteString("⚠️ <b>Помилка обробки дзвінка</b>\n")
	fmt.Fprintf(&sb, "<b>CALL_ID:</b> <code>%s</code>\n", html.EscapeString(callID))
	if stage != "" {
		fmt.Fprintf(&sb, "<b>Етап:</b> %s\n", html.EscapeString(stage))
	}

	budget := MaxMessageRunes - utf8.RuneCountInString(sb.String()) - len("<pre></pre>")
	budget = min(budget, MaxDiagnosticRunes)
	fmt.Fprintf(&sb, "<pre>%s</pre>", truncateEscaped(html.EscapeString(diag), budget))
	return sb.String()
}

// truncateEscaped cuts escaped HTML to at most n runes including the ellipsis, never
// inside a character entity.
func truncateEscaped(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n < 1 {
		return ""
	}
	cut := string([]rune(s)[:n-1])
	return trimPartialEntity(cut) + "…"
}

// trimPartialEntity drops a trailing "&..." that lost its closing ';'.
func trimPartialEntity(s string) string {
	amp := strings.LastIndexByte(s, '&')
	if amp >= 0 && !strings.Contains(s[amp:], ";") {
		return s[:amp]
	}
	return s
}

// criterionName resolves a 1-based criterion number, preferring the Ukrainian alias.
func criterionName(criteria []evaluator.Criterion, n int) string {
	if n < 1 || n > len(criteria) {
		return fmt.Sprintf("Критерій %d", n)
	}
	c := criteria[n-1]
	if len(c.Aliases) > 0 {
		return c.Aliases[0]
	}
	return c.Label
}

func formatDuration(sec int) string {
	if sec < 0 {
		return "?"
	}
	return fmt.Sprintf("%dхв %02dс", sec/60, sec%60)
}
