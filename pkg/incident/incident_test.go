package incident

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLog(t *testing.T, now time.Time) *Log {
	t.Helper()
	l := New(t.TempDir())
	l.now = func() time.Time { return now }
	return l
}

func TestRecordAndRecent(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	l := fixedLog(t, now)

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Record(Incident{RunID: "r1", Attempt: i, Kind: "not_found", Error: "button missing"}))
	}

	got, err := l.Recent(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Attempt)
	assert.Equal(t, 5, got[2].Attempt)
	assert.Equal(t, now, got[2].Time.UTC())

	assert.FileExists(t, l.Path(now))
	assert.Contains(t, l.Path(now), "incidents-2026-03-14.jsonl")
}

func TestRecent_NoFile(t *testing.T) {
	l := fixedLog(t, time.Now())

	got, err := l.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecent_SkipsMalformed(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	l := fixedLog(t, now)

	require.NoError(t, l.Record(Incident{Attempt: 1, Kind: "timeout"}))

	f, err := os.OpenFile(l.Path(now), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.Record(Incident{Attempt: 2, Kind: "rejected"}))

	got, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rejected", got[1].Kind)
}

func TestRecent_ZeroN(t *testing.T) {
	l := fixedLog(t, time.Now())
	got, err := l.Recent(0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecord_KeepsExplicitTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	l := fixedLog(t, now)

	yesterday := now.AddDate(0, 0, -1)
	require.NoError(t, l.Record(Incident{Time: yesterday, Attempt: 1}))

	assert.FileExists(t, l.Path(yesterday))
	got, err := l.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
