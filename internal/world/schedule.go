package world

import (
	"fmt"
	"sort"
	"time"
)

// ScheduleBand sets the minimum interval between cycles for the hours
// [FromHour, ToHour).
type ScheduleBand struct {
	FromHour int           `json:"from_hour" yaml:"from_hour"`
	ToHour   int           `json:"to_hour" yaml:"to_hour"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// ScheduleTable maps hour-of-day to a minimum cycle interval.
type ScheduleTable []ScheduleBand

// DefaultScheduleTable is quiet overnight and busy in the evening.
func DefaultScheduleTable() ScheduleTable {
	return ScheduleTable{
		{FromHour: 0, ToHour: 7, Interval: 2 * time.Hour},
		{FromHour: 7, ToHour: 9, Interval: time.Hour},
		{FromHour: 9, ToHour: 12, Interval: 30 * time.Minute},
		{FromHour: 12, ToHour: 18, Interval: 20 * time.Minute},
		{FromHour: 18, ToHour: 24, Interval: 10 * time.Minute},
	}
}

// Validate checks that the bands cover every hour exactly once.
func (t ScheduleTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("schedule table is empty")
	}
	var covered [24]bool
	for _, b := range t {
		if b.FromHour < 0 || b.ToHour > 24 || b.FromHour >= b.ToHour {
			return fmt.Errorf("invalid schedule band %d-%d", b.FromHour, b.ToHour)
		}
		if b.Interval <= 0 {
			return fmt.Errorf("schedule band %d-%d has no interval", b.FromHour, b.ToHour)
		}
		for h := b.FromHour; h < b.ToHour; h++ {
			if covered[h] {
				return fmt.Errorf("hour %d covered twice", h)
			}
			covered[h] = true
		}
	}
	for h, ok := range covered {
		if !ok {
			return fmt.Errorf("hour %d not covered", h)
		}
	}
	return nil
}

// IntervalAt returns the interval for the hour of t. Hours not covered by
// any band fall back to the longest configured interval.
func (t ScheduleTable) IntervalAt(at time.Time) time.Duration {
	h := at.Hour()
	var longest time.Duration
	for _, b := range t {
		if h >= b.FromHour && h < b.ToHour {
			return b.Interval
		}
		if b.Interval > longest {
			longest = b.Interval
		}
	}
	return longest
}

// Sorted returns a copy ordered by FromHour.
func (t ScheduleTable) Sorted() ScheduleTable {
	out := make(ScheduleTable, len(t))
	copy(out, t)
	sort.Slice(out, func(i, j int) bool { return out[i].FromHour < out[j].FromHour })
	return out
}

// Gate is the scheduler's verdict on starting a new cycle.
type Gate struct {
	Run            bool          `json:"run"`
	Reason         string        `json:"reason"`
	Interval       time.Duration `json:"interval"`
	NextEligibleIn time.Duration `json:"next_eligible_in,omitempty"`
}

// ShouldRun decides whether a cycle may start at now. A zero lastRun means
// no cycle has ever run. now should already be in the schedule's time zone.
func ShouldRun(now, lastRun time.Time, table ScheduleTable) Gate {
	interval := table.IntervalAt(now)
	if lastRun.IsZero() {
		return Gate{Run: true, Reason: "first run", Interval: interval}
	}
	elapsed := now.Sub(lastRun)
	if elapsed >= interval {
		return Gate{
			Run:      true,
			Reason:   fmt.Sprintf("%s since last cycle (interval %s)", elapsed.Round(time.Second), interval),
			Interval: interval,
		}
	}
	wait := interval - elapsed
	return Gate{
		Run:            false,
		Reason:         fmt.Sprintf("too soon: %s since last cycle, interval %s", elapsed.Round(time.Second), interval),
		Interval:       interval,
		NextEligibleIn: wait,
	}
}
