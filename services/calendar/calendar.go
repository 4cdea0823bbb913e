// Package calendar decides whether a date is a trading day.
package calendar

import (
	"time"
)

// HolidaySource reports exchange holidays. Optional; without one only
// weekends are closed.
type HolidaySource interface {
	IsHoliday(date time.Time) (bool, error)
}

// Calendar evaluates trading days in a market timezone
type Calendar struct {
	loc      *time.Location
	holidays HolidaySource
}

// Option configures a Calendar
type Option func(*Calendar)

// WithHolidays plugs a holiday source into the calendar
func WithHolidays(src HolidaySource) Option {
	return func(c *Calendar) { c.holidays = src }
}

// New creates a calendar for the given market location. A nil location means UTC.
func New(loc *time.Location, opts ...Option) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{loc: loc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsTradingDay reports whether t falls on a trading day in the market
// timezone. Saturdays and Sundays never trade. Any internal failure answers
// false so callers skip work instead of acting on a closed day.
func (c *Calendar) IsTradingDay(t time.Time) (trading bool) {
	defer func() {
		if r := recover(); r != nil {
			trading = false
		}
	}()

	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	if c.holidays != nil {
		holiday, err := c.holidays.IsHoliday(local)
		if err != nil || holiday {
			return false
		}
	}
	return true
}

// Location returns the market timezone
func (c *Calendar) Location() *time.Location {
	return c.loc
}
