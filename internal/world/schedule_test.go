package world

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScheduleTableIsValid(t *testing.T) {
	require.NoError(t, DefaultScheduleTable().Validate())
}

func TestScheduleTableValidate(t *testing.T) {
	tests := []struct {
		name  string
		table ScheduleTable
	}{
		{"empty", nil},
		{"inverted", ScheduleTable{{FromHour: 9, ToHour: 3, Interval: time.Hour}, {FromHour: 0, ToHour: 24, Interval: time.Hour}}},
		{"zero interval", ScheduleTable{{FromHour: 0, ToHour: 24}}},
		{"overlap", ScheduleTable{{FromHour: 0, ToHour: 12, Interval: time.Hour}, {FromHour: 11, ToHour: 24, Interval: time.Hour}}},
		{"gap", ScheduleTable{{FromHour: 0, ToHour: 12, Interval: time.Hour}, {FromHour: 13, ToHour: 24, Interval: time.Hour}}},
		{"past midnight", ScheduleTable{{FromHour: 0, ToHour: 25, Interval: time.Hour}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.table.Validate())
		})
	}
}

func TestIntervalAt(t *testing.T) {
	table := DefaultScheduleTable()
	at := func(h int) time.Time { return time.Date(2026, 5, 1, h, 15, 0, 0, time.UTC) }

	assert.Equal(t, 2*time.Hour, table.IntervalAt(at(3)))
	assert.Equal(t, time.Hour, table.IntervalAt(at(7)))
	assert.Equal(t, 30*time.Minute, table.IntervalAt(at(11)))
	assert.Equal(t, 20*time.Minute, table.IntervalAt(at(12)))
	assert.Equal(t, 10*time.Minute, table.IntervalAt(at(23)))

	partial := ScheduleTable{
		{FromHour: 0, ToHour: 6, Interval: 3 * time.Hour},
		{FromHour: 6, ToHour: 12, Interval: time.Hour},
	}
	assert.Equal(t, 3*time.Hour, partial.IntervalAt(at(20)), "uncovered hour uses the longest interval")
}

func TestShouldRun(t *testing.T) {
	table := DefaultScheduleTable()
	noon := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	g := ShouldRun(noon, time.Time{}, table)
	assert.True(t, g.Run)
	assert.Equal(t, "first run", g.Reason)

	g = ShouldRun(noon, noon.Add(-5*time.Minute), table)
	assert.False(t, g.Run)
	assert.Equal(t, 15*time.Minute, g.NextEligibleIn)
	assert.Contains(t, g.Reason, "too soon")

	g = ShouldRun(noon, noon.Add(-20*time.Minute), table)
	assert.True(t, g.Run, "exactly one interval elapsed")
	assert.Zero(t, g.NextEligibleIn)
}

func TestShouldRunProperty(t *testing.T) {
	table := DefaultScheduleTable()
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2000; i++ {
		now := base.Add(time.Duration(rng.Int63n(int64(48 * time.Hour))))
		last := now.Add(-time.Duration(rng.Int63n(int64(3 * time.Hour))))
		g := ShouldRun(now, last, table)

		interval := table.IntervalAt(now)
		elapsed := now.Sub(last)
		require.Equal(t, interval, g.Interval)
		require.Equal(t, elapsed >= interval, g.Run, "now=%s last=%s", now, last)
		if g.Run {
			require.Zero(t, g.NextEligibleIn)
		} else {
			require.Equal(t, interval-elapsed, g.NextEligibleIn)
		}
	}
}

func TestSortedDoesNotMutate(t *testing.T) {
	table := ScheduleTable{
		{FromHour: 12, ToHour: 24, Interval: time.Hour},
		{FromHour: 0, ToHour: 12, Interval: 2 * time.Hour},
	}
	sorted := table.Sorted()
	assert.Equal(t, 0, sorted[0].FromHour)
	assert.Equal(t, 12, table[0].FromHour)
}
