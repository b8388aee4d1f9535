package weekly

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/callwatch/internal/store"
)

// Header is the column order shared by the CSV and XLSX exports.
var Header = []string{"ts", "callId", "name", "phone", "duration", "tag", "score", "summary", "trust"}

func row(r store.Record) []string {
	return []string{
		r.TS.UTC().Format(time.RFC3339),
		r.CallID,
		r.Name,
		r.Phone,
		strconv.Itoa(r.Duration),
		r.Tag,
		strconv.Itoa(r.Score),
		r.Summary,
		strconv.Itoa(r.Trust.Overall),
	}
}

func CSV(records []store.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", r.CallID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

const (
	callsSheet   = "Calls"
	summarySheet = "Summary"
)

// XLSX builds a workbook with the window's calls and a summary sheet.
func XLSX(s Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", callsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, callsSheet, 1, toAny(Header)); err != nil {
		return nil, err
	}
	for i, r := range s.Records {
		values := []any{
			r.TS.UTC().Format(time.RFC3339), r.CallID, r.Name, r.Phone,
			r.Duration, r.Tag, r.Score, r.Summary, r.Trust.Overall,
		}
		if err := setRow(f, callsSheet, i+2, values); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	summaryRows := [][]any{
		{"week", s.WeekKey},
		{"from", s.From.UTC().Format(time.RFC3339)},
		{"to", s.To.UTC().Format(time.RFC3339)},
		{"calls", s.Count},
		{"mean_duration", round2(s.MeanDuration)},
		{"mean_score", round2(s.MeanScore)},
		{},
		{"tag", "count"},
	}
	for _, tc := range s.TopTags {
		summaryRows = append(summaryRows, []any{tc.Tag, tc.Count})
	}
	for i, values := range summaryRows {
		if err := setRow(f, summarySheet, i+1, values); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("set %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
