package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestTriggerTable(t *testing.T) {
	loc := mustLoad(t, "Asia/Ho_Chi_Minh")
	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, loc)
	}

	// 2024-03-08 is a Friday
	cases := []struct {
		kind  JobKind
		after time.Time
		want  time.Time
	}{
		{KindDailyDataSync, at(2024, 3, 8, 10, 0), at(2024, 3, 8, 15, 30)},
		{KindDailyDataSync, at(2024, 3, 8, 15, 30), at(2024, 3, 11, 15, 30)},
		{KindDailyReport, at(2024, 3, 8, 15, 59), at(2024, 3, 8, 16, 0)},
		{KindDailyReport, at(2024, 3, 9, 12, 0), at(2024, 3, 11, 16, 0)},
		{KindStockListUpdate, at(2024, 3, 8, 10, 0), at(2024, 3, 10, 20, 0)},
		{KindStockListUpdate, at(2024, 3, 10, 20, 0), at(2024, 3, 17, 20, 0)},
		{KindTechnicalIndicators, at(2024, 3, 8, 8, 15), at(2024, 3, 8, 9, 0)},
		{KindTechnicalIndicators, at(2024, 3, 8, 9, 0), at(2024, 3, 8, 10, 0)},
		{KindTechnicalIndicators, at(2024, 3, 8, 15, 0), at(2024, 3, 9, 9, 0)},
		{KindDataCleanup, at(2024, 3, 8, 1, 59), at(2024, 3, 8, 2, 0)},
		{KindDataCleanup, at(2024, 3, 8, 2, 0), at(2024, 3, 9, 2, 0)},
		{KindHealthCheck, at(2024, 3, 8, 10, 1), at(2024, 3, 8, 10, 30)},
		{KindHealthCheck, at(2024, 3, 8, 10, 30), at(2024, 3, 8, 11, 0)},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind)+" after "+tc.after.Format("Mon 15:04"), func(t *testing.T) {
			got := tc.kind.Trigger().Next(tc.after)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestTriggerIsPure(t *testing.T) {
	after := time.Date(2024, 3, 8, 10, 7, 13, 0, time.UTC)
	for _, k := range Kinds {
		trig := k.Trigger()
		assert.Equal(t, trig.Next(after), trig.Next(after), k)
		assert.True(t, trig.Next(after).After(after), k)
	}
}

func TestTriggerEvaluatesInLocation(t *testing.T) {
	loc := mustLoad(t, "Asia/Ho_Chi_Minh")
	// 08:00 UTC is 15:00 in Ho Chi Minh City
	after := time.Date(2024, 3, 8, 8, 0, 0, 0, time.UTC).In(loc)

	got := WeekdaysAt(15, 30).Next(after)
	assert.Equal(t, time.Date(2024, 3, 8, 8, 30, 0, 0, time.UTC), got.UTC())
}

func TestEveryIsAnchored(t *testing.T) {
	trig := Every(30 * time.Minute)
	a := trig.Next(time.Date(2024, 3, 8, 10, 0, 1, 0, time.UTC))
	b := trig.Next(time.Date(2024, 3, 8, 10, 29, 59, 0, time.UTC))
	assert.Equal(t, a, b)
	assert.Equal(t, time.Date(2024, 3, 8, 10, 30, 0, 0, time.UTC), a)
	assert.Equal(t, "every 30m0s", trig.String())
}

func TestCronRejectsBadSpec(t *testing.T) {
	_, err := Cron("61 * * * *")
	assert.Error(t, err)
}

func TestParseJobKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseJobKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseJobKind("defragment")
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Contains(t, err.Error(), "unknown task")
}
