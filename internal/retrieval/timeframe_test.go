package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseDate(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", s)
	require.NoError(t, err)
	return ts
}

func TestParseAutoTimeframeLastWeek(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 10:00:00")
	cleaned, tf, ok := ParseAutoTimeframe("what did we decide last week about caching", now, time.Sunday)
	require.True(t, ok)
	assert.Equal(t, "what did we decide about caching", cleaned)
	require.NotNil(t, tf.Start)
	require.NotNil(t, tf.End)
	assert.Equal(t, now.AddDate(0, 0, -7), *tf.Start)
	assert.Equal(t, now, *tf.End)
}

func TestParseAutoTimeframeToday(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 15:30:00")
	_, tf, ok := ParseAutoTimeframe("what happened today", now, time.Sunday)
	require.True(t, ok)
	assert.Equal(t, "2026-07-31 00:00:00", tf.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-08-01 00:00:00", tf.End.Format("2006-01-02 15:04:05"))
}

func TestParseAutoTimeframeYesterday(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 09:00:00")
	_, tf, ok := ParseAutoTimeframe("yesterday's standup notes", now, time.Sunday)
	require.True(t, ok)
	assert.Equal(t, "2026-07-30 00:00:00", tf.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-07-31 00:00:00", tf.End.Format("2006-01-02 15:04:05"))
}

func TestParseAutoTimeframeNoMatch(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 09:00:00")
	_, _, ok := ParseAutoTimeframe("what is pgvector", now, time.Sunday)
	assert.False(t, ok)
}

func TestParseAutoTimeframeRecently(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 09:00:00")
	_, tf, ok := ParseAutoTimeframe("what did we discuss recently", now, time.Sunday)
	require.True(t, ok)
	assert.Equal(t, now.AddDate(0, 0, -3), *tf.Start)
}

func TestParseAutoTimeframeLastNDays(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 09:00:00")
	_, tf, ok := ParseAutoTimeframe("show me the last 14 days", now, time.Sunday)
	require.True(t, ok)
	assert.Equal(t, now.AddDate(0, 0, -14), *tf.Start)
}

func TestParseAutoTimeframeFirstMatchWinsOrder(t *testing.T) {
	// "today" precedes "last week" in scan order, so a query containing
	// both phrases resolves to "today"'s single-day window.
	now := mustParseDate(t, "2026-07-31 09:00:00")
	_, tf, ok := ParseAutoTimeframe("today vs last week comparison", now, time.Sunday)
	require.True(t, ok)
	assert.Equal(t, "2026-07-31 00:00:00", tf.Start.Format("2006-01-02 15:04:05"))
}

func TestParsePhraseTimeframeUnrecognizedFails(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 09:00:00")
	_, err := ParsePhraseTimeframe("next tuesday", now, time.Sunday)
	assert.Error(t, err)
}

func TestWeekendsAgoWindow(t *testing.T) {
	// 2026-07-31 is a Friday; the most recent Saturday is 2026-07-25.
	now := mustParseDate(t, "2026-07-31 09:00:00")
	tf, err := ParsePhraseTimeframe("2 weekends ago", now, time.Sunday)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-18 00:00:00", tf.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-07-20 00:00:00", tf.End.Format("2006-01-02 15:04:05"))
}

func TestLastWeekendWindow(t *testing.T) {
	now := mustParseDate(t, "2026-07-31 09:00:00")
	tf, err := ParsePhraseTimeframe("last weekend", now, time.Sunday)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-25 00:00:00", tf.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-07-27 00:00:00", tf.End.Format("2006-01-02 15:04:05"))
}

func TestParseDateTimeframeExpandsFullDay(t *testing.T) {
	date := mustParseDate(t, "2026-03-15 00:00:00")
	tf := ParseDateTimeframe(date, time.UTC)
	assert.Equal(t, "2026-03-15 00:00:00", tf.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-03-16 00:00:00", tf.End.Format("2006-01-02 15:04:05"))
}
