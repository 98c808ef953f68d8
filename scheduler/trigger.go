package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Trigger computes firing times. Next must return an instant strictly after
// now; start is the instant the scheduler was started.
type Trigger interface {
	Next(start, now time.Time) time.Time
	String() string
}

// Cron fires once at Hour:Minute on each of Weekdays (every day when empty),
// in Location (UTC when nil)
type Cron struct {
	Hour     int
	Minute   int
	Weekdays []time.Weekday
	Location *time.Location
}

func (c Cron) Next(_, now time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		d := local.AddDate(0, 0, i)
		at := time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, loc)
		if at.After(now) && c.runsOn(at.Weekday()) {
			return at
		}
	}
	return time.Time{}
}

func (c Cron) runsOn(d time.Weekday) bool {
	if len(c.Weekdays) == 0 {
		return true
	}
	for _, w := range c.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (c Cron) String() string {
	days := "every day"
	if len(c.Weekdays) > 0 {
		names := make([]string, len(c.Weekdays))
		for i, d := range c.Weekdays {
			names[i] = d.String()[:3]
		}
		days = strings.Join(names, ",")
	}
	loc := "UTC"
	if c.Location != nil {
		loc = c.Location.String()
	}
	return fmt.Sprintf("cron %02d:%02d %s (%s)", c.Hour, c.Minute, days, loc)
}

// Interval fires every Every, counted from the scheduler start
type Interval struct {
	Every time.Duration
}

func (iv Interval) Next(start, now time.Time) time.Time {
	if iv.Every <= 0 {
		return time.Time{}
	}
	if now.Before(start) {
		return start.Add(iv.Every)
	}
	k := now.Sub(start)/iv.Every + 1
	return start.Add(k * iv.Every)
}

func (iv Interval) String() string {
	return fmt.Sprintf("every %s", iv.Every)
}
