package retrieval

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MycelicMemory/htm/internal/errs"
)

// phrasePattern pairs a compiled regexp against a resolver that turns a
// match into a Timeframe. Order matters: ParseAutoTimeframe scans in this
// fixed order and returns on the first match ("first-match-wins"), so more
// specific phrases (e.g. "N weekends ago") must precede more general ones
// (e.g. "last week") when their surface forms could otherwise overlap.
type phrasePattern struct {
	re      *regexp.Regexp
	resolve func(now time.Time, weekStart time.Weekday, match []string) Timeframe
}

// Fixed scan order per the parser's first-match-wins contract: today,
// yesterday, this morning, last week, last month, this month, last N days,
// few/several/a few days ago, recently/recent, last weekend, N weekends ago.
var phrasePatterns = []phrasePattern{
	{regexp.MustCompile(`(?i)\btoday\b`), func(now time.Time, _ time.Weekday, _ []string) Timeframe {
		return dayTimeframe(now)
	}},
	{regexp.MustCompile(`(?i)\byesterday\b`), func(now time.Time, _ time.Weekday, _ []string) Timeframe {
		return dayTimeframe(now.AddDate(0, 0, -1))
	}},
	{regexp.MustCompile(`(?i)\bthis\s+morning\b`), func(now time.Time, _ time.Weekday, _ []string) Timeframe {
		return dayTimeframe(now)
	}},
	{regexp.MustCompile(`(?i)\blast\s+week\b`), func(now time.Time, _ time.Weekday, _ []string) Timeframe {
		return lastNDaysTimeframe(now, 0, []string{"", "7"})
	}},
	{regexp.MustCompile(`(?i)\blast\s+month\b`), func(now time.Time, _ time.Weekday, _ []string) Timeframe {
		return monthTimeframe(now, -1)
	}},
	{regexp.MustCompile(`(?i)\bthis\s+month\b`), func(now time.Time, _ time.Weekday, _ []string) Timeframe {
		return monthTimeframe(now, 0)
	}},
	{regexp.MustCompile(`(?i)\blast\s+(\d+)\s+days?\b`), lastNDaysTimeframe},
	{regexp.MustCompile(`(?i)\b(?:few|several|a\s+few)\s+days\s+ago\b`), func(now time.Time, ws time.Weekday, _ []string) Timeframe {
		return lastNDaysTimeframe(now, ws, []string{"", "3"})
	}},
	{regexp.MustCompile(`(?i)\brecently|recent\b`), func(now time.Time, ws time.Weekday, _ []string) Timeframe {
		return lastNDaysTimeframe(now, ws, []string{"", "3"})
	}},
	{regexp.MustCompile(`(?i)\blast\s+weekend\b`), func(now time.Time, ws time.Weekday, _ []string) Timeframe {
		return weekendsAgoTimeframe(now, ws, []string{"", "1"})
	}},
	{regexp.MustCompile(`(?i)\b(\d+)\s+weekends?\s+ago\b`), weekendsAgoTimeframe},
}

// ParseAutoTimeframe scans query for the first matching phrase pattern (in
// the fixed order above), returning the cleaned query (phrase removed, extra
// whitespace collapsed) and the resolved Timeframe. ok is false if no phrase
// matched.
func ParseAutoTimeframe(query string, now time.Time, weekStart time.Weekday) (cleaned string, tf Timeframe, ok bool) {
	for _, p := range phrasePatterns {
		loc := p.re.FindStringSubmatchIndex(query)
		if loc == nil {
			continue
		}
		match := submatches(query, loc)
		tf = p.resolve(now, weekStart, match)
		cleaned = collapseWhitespace(query[:loc[0]] + query[loc[1]:])
		return cleaned, tf, true
	}
	return query, Timeframe{}, false
}

// ParsePhraseTimeframe resolves a standalone phrase (not embedded in a
// query) to a Timeframe, failing with Validation if unrecognized.
func ParsePhraseTimeframe(phrase string, now time.Time, weekStart time.Weekday) (Timeframe, error) {
	for _, p := range phrasePatterns {
		loc := p.re.FindStringSubmatchIndex(phrase)
		if loc == nil {
			continue
		}
		return p.resolve(now, weekStart, submatches(phrase, loc)), nil
	}
	return Timeframe{}, errs.Validation("unrecognized timeframe phrase %q", phrase)
}

// ParseDateTimeframe expands a single civil date to the full day in loc.
func ParseDateTimeframe(date time.Time, loc *time.Location) Timeframe {
	return dayTimeframe(date.In(loc))
}

func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] < 0 {
			continue
		}
		out[i] = s[loc[2*i]:loc[2*i+1]]
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dayTimeframe(t time.Time) Timeframe {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 0, 1)
	return Timeframe{Start: &start, End: &end}
}

func monthTimeframe(t time.Time, offset int) Timeframe {
	anchor := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, offset, 0)
	start := anchor
	end := anchor.AddDate(0, 1, 0)
	return Timeframe{Start: &start, End: &end}
}

func lastNDaysTimeframe(now time.Time, _ time.Weekday, match []string) Timeframe {
	n := 3
	if len(match) > 1 && match[1] != "" {
		if parsed, err := strconv.Atoi(match[1]); err == nil {
			n = parsed
		}
	}
	start := now.AddDate(0, 0, -n)
	end := now
	return Timeframe{Start: &start, End: &end}
}

// weekendsAgoTimeframe resolves "N weekends ago" to the civil Saturday
// 00:00 through Monday 00:00 window starting on the Nth most recent
// Saturday (N=1 is the most recent one, today included if today is a
// Saturday). weekStart does not affect the window.
func weekendsAgoTimeframe(now time.Time, weekStart time.Weekday, match []string) Timeframe {
	n := 1
	if len(match) > 1 && match[1] != "" {
		if parsed, err := strconv.Atoi(match[1]); err == nil && parsed > 0 {
			n = parsed
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	daysSinceSaturday := int(today.Weekday()-time.Saturday+7) % 7
	mostRecentSaturday := today.AddDate(0, 0, -daysSinceSaturday)
	saturday := mostRecentSaturday.AddDate(0, 0, -7*(n-1))
	monday := saturday.AddDate(0, 0, 2)

	_ = weekStart // unused: the Sat–Mon window is the same for either week start
	return Timeframe{Start: &saturday, End: &monday}
}
