// Package calendar answers whether an instant falls on a trading day and
// inside the trading session of a single exchange.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the ISO date format used for holidays and snapshot dates
const DateLayout = "2006-01-02"

// Config describes an exchange calendar. Times of day are "HH:MM" in the
// exchange's timezone.
type Config struct {
	Timezone string
	Open     string
	Close    string
	Holidays []string
	// Weekdays lists the trading days. Empty means Monday to Friday.
	Weekdays []time.Weekday
}

// TimeOfDay is a wall-clock offset from local midnight
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Calendar is immutable once built and safe for concurrent use.
type Calendar struct {
	loc      *time.Location
	open     TimeOfDay
	close    TimeOfDay
	holidays map[string]struct{}
	weekdays [7]bool
	now      func() time.Time
}

// New validates cfg and builds a Calendar.
func New(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	open, err := parseTimeOfDay(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}
	closeAt, err := parseTimeOfDay(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("invalid close time: %w", err)
	}
	if closeAt.seconds() < open.seconds() {
		return nil, fmt.Errorf("close %s is before open %s", closeAt, open)
	}

	c := &Calendar{
		loc:      loc,
		open:     open,
		close:    closeAt,
		holidays: make(map[string]struct{}, len(cfg.Holidays)),
		now:      time.Now,
	}
	for _, h := range cfg.Holidays {
		d, err := time.Parse(DateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[d.Format(DateLayout)] = struct{}{}
	}

	weekdays := cfg.Weekdays
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	for _, d := range weekdays {
		c.weekdays[d] = true
	}
	return c, nil
}

// WithClock returns a copy of c that reads the current time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	cp := *c
	cp.now = now
	return &cp
}

// Location returns the exchange timezone
func (c *Calendar) Location() *time.Location { return c.loc }

// OpenTime returns the session open time of day
func (c *Calendar) OpenTime() TimeOfDay { return c.open }

// CloseTime returns the session close time of day
func (c *Calendar) CloseTime() TimeOfDay { return c.close }

// Now returns the current instant in the exchange timezone.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Local converts t into the exchange timezone.
func (c *Calendar) Local(t time.Time) time.Time {
	return t.In(c.loc)
}

// ParseLocal parses a timestamp without zone information as exchange local
// time. The wall clock is kept as is, it is not converted from UTC.
func (c *Calendar) ParseLocal(layout, value string) (time.Time, error) {
	return time.ParseInLocation(layout, value, c.loc)
}

// IsTradingDay reports whether t's local date is a configured weekday and
// not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	if !c.weekdays[local.Weekday()] {
		return false
	}
	_, holiday := c.holidays[local.Format(DateLayout)]
	return !holiday
}

// IsMarketOpen reports whether t lies within the session of a trading day.
// Both the open and the close instant count as open.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc)
	tod := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return tod >= c.open.seconds() && tod <= c.close.seconds()
}

// IsTradingDayNow is IsTradingDay for the current instant.
func (c *Calendar) IsTradingDayNow() bool { return c.IsTradingDay(c.Now()) }

// IsMarketOpenNow is IsMarketOpen for the current instant.
func (c *Calendar) IsMarketOpenNow() bool { return c.IsMarketOpen(c.Now()) }

// OpenAt returns the session open instant on t's local date.
func (c *Calendar) OpenAt(t time.Time) time.Time {
	return c.at(t, c.open)
}

// CloseAt returns the session close instant on t's local date.
func (c *Calendar) CloseAt(t time.Time) time.Time {
	return c.at(t, c.close)
}

// NextOpen returns the first session open strictly after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	for i := 0; i < 366; i++ {
		day := local.AddDate(0, 0, i)
		open := c.OpenAt(day)
		if open.After(local) && c.IsTradingDay(open) {
			return open
		}
	}
	return time.Time{}
}

func (c *Calendar) at(t time.Time, tod TimeOfDay) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, tod.Second, 0, c.loc)
}

func parseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("expected HH:MM, got %q", s)
}
