package weekly

import (
	"sort"
	"time"

	"github.com/MikeSquared-Agency/callwatch/internal/store"
)

// Window is the trailing period a report covers.
const Window = 7 * 24 * time.Hour

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type Summary struct {
	WeekKey      string         `json:"week_key"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Count        int            `json:"count"`
	MeanDuration float64        `json:"mean_duration"`
	MeanScore    float64        `json:"mean_score"`
	TopTags      []TagCount     `json:"top_tags"`
	Worst        []store.Record `json:"-"`
	Records      []store.Record `json:"-"`
}

// InWindow keeps records with from <= ts <= to, oldest first.
func InWindow(records []store.Record, from, to time.Time) []store.Record {
	var out []store.Record
	for _, r := range records {
		if r.TS.Before(from) || r.TS.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// Summarize aggregates the records ending at now. Ties in tag counts sort by tag name;
// ties in score sort oldest first.
func Summarize(records []store.Record, now time.Time, topN int) Summary {
	from := now.Add(-Window)
	window := InWindow(records, from, now)

	s := Summary{
		WeekKey: WeekKey(now),
		From:    from,
		To:      now,
		Count:   len(window),
		Records: window,
	}
	if len(window) == 0 {
		return s
	}

	var durSum, scoreSum int
	tags := map[string]int{}
	for _, r := range window {
		durSum += r.Duration
		scoreSum += r.Score
		tags[r.Tag]++
	}
	s.MeanDuration = float64(durSum) / float64(len(window))
	s.MeanScore = float64(scoreSum) / float64(len(window))

	for tag, n := range tags {
		s.TopTags = append(s.TopTags, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(s.TopTags, func(i, j int) bool {
		if s.TopTags[i].Count != s.TopTags[j].Count {
			return s.TopTags[i].Count > s.TopTags[j].Count
		}
		return s.TopTags[i].Tag < s.TopTags[j].Tag
	})
	if topN > 0 && len(s.TopTags) > topN {
		s.TopTags = s.TopTags[:topN]
	}

	worst := append([]store.Record(nil), window...)
	sort.SliceStable(worst, func(i, j int) bool { return worst[i].Score < worst[j].Score })
	if topN > 0 && len(worst) > topN {
		worst = worst[:topN]
	}
	s.Worst = worst
	return s
}
