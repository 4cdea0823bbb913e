package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes fire times. Next is pure: it returns the first fire time
// strictly after the given instant, evaluated in that instant's location.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// TriggerFunc adapts a function to Trigger
type TriggerFunc func(after time.Time) time.Time

// Next calls f
func (f TriggerFunc) Next(after time.Time) time.Time { return f(after) }

func (f TriggerFunc) String() string { return "custom" }

type cronTrigger struct {
	spec     string
	schedule cron.Schedule
}

// Cron parses a standard five-field cron expression
func Cron(spec string) (Trigger, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse trigger %q: %w", spec, err)
	}
	return &cronTrigger{spec: spec, schedule: schedule}, nil
}

func mustCron(spec string) Trigger {
	t, err := Cron(spec)
	if err != nil {
		panic(err)
	}
	return t
}

func (c *cronTrigger) Next(after time.Time) time.Time { return c.schedule.Next(after) }

func (c *cronTrigger) String() string { return c.spec }

// WeekdaysAt fires Monday to Friday at hour:minute
func WeekdaysAt(hour, minute int) Trigger {
	return mustCron(fmt.Sprintf("%d %d * * 1-5", minute, hour))
}

// WeeklyAt fires once a week on day at hour:minute
func WeeklyAt(day time.Weekday, hour, minute int) Trigger {
	return mustCron(fmt.Sprintf("%d %d * * %d", minute, hour, int(day)))
}

// DailyAt fires every day at hour:minute
func DailyAt(hour, minute int) Trigger {
	return mustCron(fmt.Sprintf("%d %d * * *", minute, hour))
}

// HourlyBetween fires on the hour from hour first to hour last inclusive
func HourlyBetween(first, last int) Trigger {
	return mustCron(fmt.Sprintf("0 %d-%d * * *", first, last))
}

type everyTrigger struct {
	interval time.Duration
}

// Every fires on multiples of d counted from the zero time, so fire times do
// not depend on when the process started.
func Every(d time.Duration) Trigger {
	if d <= 0 {
		panic("scheduler: interval must be positive")
	}
	return everyTrigger{interval: d}
}

func (e everyTrigger) Next(after time.Time) time.Time {
	return after.Truncate(e.interval).Add(e.interval).In(after.Location())
}

func (e everyTrigger) String() string { return "every " + e.interval.String() }
