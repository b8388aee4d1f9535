package weekly

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"
)

const summaryPreviewRunes = 120

// FormatReport renders the summary as Telegram HTML.
func FormatReport(s Summary, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder

	fmt.Fprintf(&sb, "📊 <b>Тижневий звіт %s</b>\n", s.WeekKey)
	fmt.Fprintf(&sb, "%s – %s\n\n", s.From.In(loc).Format("02.01.2006 15:04"), s.To.In(loc).Format("02.01.2006 15:04"))

	if s.Count == 0 {
		sb.WriteString("За тиждень проаналізованих дзвінків немає.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "<b>Дзвінків:</b> %d\n", s.Count)
	fmt.Fprintf(&sb, "<b>Середня тривалість:</b> %s\n", formatDuration(s.MeanDuration))
	fmt.Fprintf(&sb, "<b>Середній бал:</b> %.1f/8\n", s.MeanScore)

	if len(s.TopTags) > 0 {
		sb.WriteString("\n<b>Теми</b>\n")
		for i, tc := range s.TopTags {
			fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, html.EscapeString(tc.Tag), tc.Count)
		}
	}

	if len(s.Worst) > 0 {
		sb.WriteString("\n<b>Найнижчі оцінки</b>\n")
		for _, r := range s.Worst {
			fmt.Fprintf(&sb, "• %d/8 %s %s (%s)\n  %s\n",
				r.Score,
				r.TS.In(loc).Format("02.01 15:04"),
				html.EscapeString(r.Name),
				html.EscapeString(r.Phone),
				html.EscapeString(preview(r.Summary, summaryPreviewRunes)),
			)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatDuration(sec float64) string {
	total := int(sec + 0.5)
	return fmt.Sprintf("%dхв %02dс", total/60, total%60)
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
