package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Placeholder is shown when a CRM name cannot be resolved.
const Placeholder = "—"

const statisticMethod = "voximplant.statistic.get.json"

// ErrNoTotal is returned when the statistics response carries no total count.
var ErrNoTotal = errors.New("bitrix: total missing from statistics response")

// Client talks to a Bitrix24 inbound webhook.
type Client struct {
	base       string
	client     *http.Client
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

func NewClient(webhookBase string, timeout time.Duration, logger *slog.Logger) *Client {
	if webhookBase != "" && !strings.HasSuffix(webhookBase, "/") {
		webhookBase += "/"
	}
	return &Client{
		base:   webhookBase,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 20 * time.Second
			return backoff.WithMaxRetries(bo, 3)
		},
	}
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Total            flexString      `json:"total"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// Total returns the number of call records in the portal statistics.
func (c *Client) Total(ctx context.Context) (int, error) {
	var env envelope
	payload := map[string]any{
		"ORDER": map[string]string{"CALL_START_DATE": "DESC"},
		"LIMIT": 1,
	}
	if err := c.postJSON(ctx, statisticMethod, payload, &env); err != nil {
		return 0, err
	}
	if total, ok := parseTotal(env); ok {
		return total, nil
	}
	return 0, ErrNoTotal
}

// List returns one page of calls ordered by start time ascending, beginning at offset start.
func (c *Client) List(ctx context.Context, start, limit int) ([]Call, error) {
	var env envelope
	payload := map[string]any{
		"ORDER": map[string]string{"CALL_START_DATE": "ASC"},
		"LIMIT": limit,
		"start": start,
	}
	if err := c.postJSON(ctx, statisticMethod, payload, &env); err != nil {
		return nil, err
	}

	rows := decodeRows(env.Result)
	calls := make([]Call, 0, len(rows))
	for _, row := range rows {
		calls = append(calls, row.toCall())
	}
	sort.SliceStable(calls, func(i, j int) bool {
		return calls[i].StartTime.Before(calls[j].StartTime)
	})
	return calls, nil
}

// EntityName resolves a display name for a CRM entity. Failures are logged and
// yield Placeholder so a missing name never blocks a call report.
func (c *Client) EntityName(ctx context.Context, ref ContactRef) string {
	if ref.Empty() {
		return Placeholder
	}
	var method string
	switch strings.ToUpper(ref.EntityType) {
	case "CONTACT":
		method = "crm.contact.get.json"
	case "LEAD":
		method = "crm.lead.get.json"
	case "COMPANY":
		method = "crm.company.get.json"
	default:
		return Placeholder
	}

	var resp struct {
		Result map[string]any `json:"result"`
	}
	if err := c.postJSON(ctx, method, map[string]string{"ID": ref.EntityID}, &resp); err != nil {
		c.logger.Warn("crm name lookup failed", "entity_type", ref.EntityType, "entity_id", ref.EntityID, "error", err)
		return Placeholder
	}

	var parts []string
	for _, key := range []string{"NAME", "SECOND_NAME", "LAST_NAME"} {
		if v, ok := resp.Result[key].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	if name := strings.Join(parts, " "); name != "" {
		return name
	}
	if title, ok := resp.Result["TITLE"].(string); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return Placeholder
}

// EntityLink builds a portal deep link for the entity, preferring the activity view.
func (c *Client) EntityLink(ref ContactRef) string {
	base := c.portalBase()
	if ref.ActivityID != "" {
		return base + "crm/activity/?open_view=" + ref.ActivityID
	}
	paths := map[string]string{
		"CONTACT": "crm/contact/details/",
		"LEAD":    "crm/lead/details/",
		"DEAL":    "crm/deal/details/",
		"COMPANY": "crm/company/details/",
	}
	if path, ok := paths[strings.ToUpper(ref.EntityType)]; ok && ref.EntityID != "" {
		return base + path + ref.EntityID + "/"
	}
	return base
}

func (c *Client) portalBase() string {
	if i := strings.Index(c.base, "/rest/"); i >= 0 {
		return strings.TrimRight(c.base[:i], "/") + "/"
	}
	return c.base
}

func (c *Client) postJSON(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+method, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s response: %w", method, err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s server error %d: %s", method, resp.StatusCode, truncate(respBody, 300))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("%s error %d: %s", method, resp.StatusCode, truncate(respBody, 300)))
		}

		var apiErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return backoff.Permanent(fmt.Errorf("%s: %s: %s", method, apiErr.Error, apiErr.ErrorDescription))
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", method, err))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

func parseTotal(env envelope) (int, bool) {
	if n, err := strconv.Atoi(string(env.Total)); err == nil {
		return n, true
	}
	var nested struct {
		Total flexString `json:"total"`
	}
	if len(env.Result) > 0 && env.Result[0] == '{' && json.Unmarshal(env.Result, &nested) == nil {
		if n, err := strconv.Atoi(string(nested.Total)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// decodeRows accepts the shapes the statistics method has been seen to return:
// a list of rows, an object keyed by index, or an object with an items list.
func decodeRows(raw json.RawMessage) []statRow {
	if len(raw) == 0 {
		return nil
	}
	var list []statRow
	if json.Unmarshal(raw, &list) == nil {
		return list
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return nil
	}
	if items, ok := obj["items"]; ok {
		if json.Unmarshal(items, &list) == nil {
			return list
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var row statRow
		if json.Unmarshal(obj[k], &row) == nil && row.CallID != "" {
			list = append(list, row)
		}
	}
	return list
}

func (r statRow) toCall() Call {
	call := Call{
		ID:               string(r.ID),
		CallID:           string(r.CallID),
		StartRaw:         string(r.CallStartDate),
		DurationSeconds:  UnknownDuration,
		RecordingAddress: emptyToBlank(string(r.CallRecordURL)),
		Direction:        directionOf(string(r.CallType)),
		Contact: ContactRef{
			EntityType: string(r.CRMEntityType),
			EntityID:   string(r.CRMEntityID),
			ActivityID: string(r.CRMActivityID),
		},
		PhoneNumber: string(r.PhoneNumber),
	}
	if call.CallID == "" {
		call.CallID = call.ID
	}
	if d, err := strconv.Atoi(emptyToBlank(string(r.CallDuration))); err == nil {
		call.DurationSeconds = d
	}
	if t, err := time.Parse(time.RFC3339, call.StartRaw); err == nil {
		call.StartTime = t
	}
	return call
}

// CALL_TYPE: 1 outgoing, 2 incoming, 3 incoming redirected, 4 callback.
func directionOf(callType string) Direction {
	switch callType {
	case "2", "3":
		return DirectionInbound
	case "1", "4":
		return DirectionOutbound
	default:
		return DirectionUnknown
	}
}

func emptyToBlank(s string) string {
	s = strings.TrimSpace(s)
	if s == "empty" {
		return ""
	}
	return s
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// flexString decodes JSON strings, numbers and booleans as text; null becomes "".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}
