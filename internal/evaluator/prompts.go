package evaluator

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a call-centre quality reviewer for an internet service provider.

You read one transcript of a phone call between an operator and a customer and return a
strict JSON evaluation of the OPERATOR's behaviour.

Rules:
- Use only what is in the transcript. Never invent facts, names, numbers or outcomes.
- Return exactly one JSON object and nothing else. No markdown, no commentary.
- The checklist has exactly 8 items, in the given criterion order, numbered 1..8.
- status is one of "ok", "partial", "fail".
- confidence is a number in [0,1]. If you cannot reach 0.75 confidence, do not use "ok".
- note (6-220 characters) describes what the operator actually did or failed to do. Do not
  restate the criterion name.
- evidence (0-180 characters) is a short quote from the transcript, or "".
- summary (at least 10 characters) states what happened in the call neutrally, without
  judging words such as good, bad, excellent, poor.
- tag is exactly one of the allowed tags.
- coaching.top_issues has exactly 2 items about operator behaviour (how they spoke, asked,
  explained, closed), never about the call topic (tariffs, payments, equipment, connection).
- coaching.tip (at least 10 characters) is one concrete piece of advice for the operator.
- risk_flags is a list of short strings (up to 80 characters each), or [].
- Write all prose fields in the language of the transcript.

JSON shape:
{
  "facts": {"<key>": "<objective observation>"},
  "checklist": [
    {"criterion": 1, "status": "ok|partial|fail", "note": "...", "evidence": "...", "confidence": 0.0}
  ],
  "summary": "...",
  "tag": "...",
  "coaching": {"top_issues": ["...", "..."], "tip": "..."},
  "risk_flags": []
}`

func buildUserPrompt(rules Rules, text string, segments []string, durationSec int) string {
	var sb strings.Builder

	sb.WriteString("Criteria (in order):\n")
	for i, c := range rules.Criteria {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, c.Label, c.Description)
	}
	fmt.Fprintf(&sb, "\nAllowed tags: %s (use %q when nothing else fits)\n", strings.Join(rules.Tags, ", "), rules.CatchAllTag)

	if durationSec > 0 {
		fmt.Fprintf(&sb, "Call duration: %d seconds\n", durationSec)
	}

	if len(segments) == 3 {
		sb.WriteString("\nThe transcript was truncated. Key segments of the full call:\n")
		for i, name := range []string{"OPENING", "MIDDLE", "CLOSING"} {
			fmt.Fprintf(&sb, "--- %s ---\n%s\n", name, segments[i])
		}
	}

	fmt.Fprintf(&sb, "\nTranscript:\n%s\n", text)
	return sb.String()
}

func correctivePrompt(verr *ValidationError) string {
	var sb strings.Builder

	classes := make([]string, 0, len(verr.Classes()))
	for _, c := range verr.Classes() {
		classes = append(classes, string(c))
	}
	fmt.Fprintf(&sb, "Your previous reply was rejected (%s). Fix these problems:\n", strings.Join(classes, ", "))
	for _, v := range verr.Violations {
		fmt.Fprintf(&sb, "- %s\n", v.String())
	}

	for _, c := range verr.Classes() {
		switch c {
		case ClassSchema:
			sb.WriteString("Return exactly the JSON shape requested: 8 checklist items numbered 1..8, allowed tag only, exactly 2 top_issues, no extra fields.\n")
		case ClassConfidence:
			sb.WriteString("Keep confidence within [0,1] and use \"partial\" instead of \"ok\" when confidence is below 0.75.\n")
		case ClassTopicLeak:
			sb.WriteString("top_issues must describe what the operator did, not what the call was about.\n")
		case ClassContent:
			sb.WriteString("Notes must describe concrete operator behaviour, not repeat the criterion name; respect the length limits; keep the summary neutral.\n")
		}
	}
	sb.WriteString("Reply with the corrected JSON object only.")
	return sb.String()
}
