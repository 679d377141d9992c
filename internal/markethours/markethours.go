// Package markethours derives the coarse market session state from the
// wall clock and the exchange calendar. The status is a hint for the
// cache policy and the tick gate, not an exchange-accurate clock.
package markethours

import (
	"time"

	"market-analysis-engine/internal/models"
)

// IST is the exchange local time zone (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session boundaries in exchange local time.
const (
	PreOpenHour   = 9
	PreOpenMinute = 0
	OpenHour      = 9
	OpenMinute    = 15
	CloseHour     = 15
	CloseMinute   = 30
	PostEndHour   = 16
	PostEndMinute = 0
)

// Calendar answers session-state questions for one exchange.
type Calendar struct {
	loc      *time.Location
	holidays map[string]string // "2006-01-02" -> name
}

// NewCalendar builds a calendar with the default holiday table.
func NewCalendar() *Calendar {
	return &Calendar{loc: IST, holidays: defaultHolidays()}
}

// Status returns the market status at t.
func (c *Calendar) Status(t time.Time) models.MarketStatus {
	lt := t.In(c.loc)
	if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return models.MarketWeekend
	}
	if _, ok := c.holidays[lt.Format("2006-01-02")]; ok {
		return models.MarketHoliday
	}
	hm := lt.Hour()*60 + lt.Minute()
	switch {
	case hm >= PreOpenHour*60+PreOpenMinute && hm < OpenHour*60+OpenMinute:
		return models.MarketPre
	case hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute:
		return models.MarketOpen
	case hm >= CloseHour*60+CloseMinute && hm < PostEndHour*60+PostEndMinute:
		return models.MarketPost
	default:
		return models.MarketClosed
	}
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	wd := lt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[lt.Format("2006-01-02")]
	return !holiday
}

// NextOpen returns the next market open at or after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	lt := t.In(c.loc)
	todayOpen := time.Date(lt.Year(), lt.Month(), lt.Day(), OpenHour, OpenMinute, 0, 0, c.loc)
	if lt.Before(todayOpen) && c.IsTradingDay(lt) {
		return todayOpen
	}
	d := lt.AddDate(0, 0, 1)
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, c.loc)
		}
		d = d.AddDate(0, 0, 1)
	}
	return todayOpen.AddDate(0, 0, 1)
}

// AddHoliday registers an extra non-trading date (local calendar date).
func (c *Calendar) AddHoliday(date, name string) {
	c.holidays[date] = name
}

func defaultHolidays() map[string]string {
	return map[string]string{
		"2026-01-26": "Republic Day",
		"2026-03-03": "Holi",
		"2026-04-03": "Good Friday",
		"2026-05-01": "Maharashtra Day",
		"2026-08-15": "Independence Day",
		"2026-10-02": "Gandhi Jayanti",
		"2026-11-09": "Diwali",
		"2026-12-25": "Christmas",
	}
}
