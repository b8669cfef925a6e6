package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
)

// NewBusinessCalendar returns the workday calendar automated messages
// are gated on. Monday through Saturday are working days; holidays can
// be layered on by the caller.
func NewBusinessCalendar() *cal.BusinessCalendar {
	c := cal.NewBusinessCalendar()
	c.SetWorkday(time.Monday, true)
	c.SetWorkday(time.Tuesday, true)
	c.SetWorkday(time.Wednesday, true)
	c.SetWorkday(time.Thursday, true)
	c.SetWorkday(time.Friday, true)
	c.SetWorkday(time.Saturday, true)
	c.SetWorkday(time.Sunday, false)
	return c
}

// WithinBusinessHours reports whether automated messages may be sent on
// this connection at the given instant. A connection with no configured
// window is always open. Windows that wrap past midnight (e.g. 22:00 to
// 06:00) are honored.
func (c *Connection) WithinBusinessHours(now time.Time, calendar *cal.BusinessCalendar) bool {
	if c.StartTime == nil || c.EndTime == nil {
		return true
	}
	startMin, ok := parseClock(*c.StartTime)
	if !ok {
		return true
	}
	endMin, ok := parseClock(*c.EndTime)
	if !ok {
		return true
	}

	if calendar != nil && !calendar.IsWorkday(now) {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Wrapping window: open late evening through early morning.
	return nowMin >= startMin || nowMin < endMin
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
