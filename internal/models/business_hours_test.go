package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func at(hour, min int) time.Time {
	// 2026-08-26 is a Wednesday.
	return time.Date(2026, 8, 26, hour, min, 0, 0, time.UTC)
}

func TestWithinBusinessHoursNoWindow(t *testing.T) {
	c := &Connection{}
	assert.True(t, c.WithinBusinessHours(at(3, 0), nil))
	assert.True(t, c.WithinBusinessHours(at(23, 59), nil))
}

func TestWithinBusinessHoursWindow(t *testing.T) {
	c := &Connection{StartTime: strPtr("08:00"), EndTime: strPtr("18:00")}

	assert.False(t, c.WithinBusinessHours(at(7, 59), nil))
	assert.True(t, c.WithinBusinessHours(at(8, 0), nil))
	assert.True(t, c.WithinBusinessHours(at(12, 30), nil))
	assert.False(t, c.WithinBusinessHours(at(18, 0), nil))
	assert.False(t, c.WithinBusinessHours(at(22, 0), nil))
}

func TestWithinBusinessHoursWrappingWindow(t *testing.T) {
	c := &Connection{StartTime: strPtr("22:00"), EndTime: strPtr("06:00")}

	assert.True(t, c.WithinBusinessHours(at(23, 0), nil))
	assert.True(t, c.WithinBusinessHours(at(2, 0), nil))
	assert.False(t, c.WithinBusinessHours(at(12, 0), nil))
	assert.False(t, c.WithinBusinessHours(at(6, 0), nil))
}

func TestWithinBusinessHoursCalendar(t *testing.T) {
	calendar := NewBusinessCalendar()
	c := &Connection{StartTime: strPtr("08:00"), EndTime: strPtr("18:00")}

	wednesday := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	assert.True(t, c.WithinBusinessHours(wednesday, calendar))
	assert.True(t, c.WithinBusinessHours(saturday, calendar))
	assert.False(t, c.WithinBusinessHours(sunday, calendar))
}

func TestWithinBusinessHoursBadClock(t *testing.T) {
	c := &Connection{StartTime: strPtr("not-a-time"), EndTime: strPtr("18:00")}
	// Unparseable windows never lock the desk shut.
	assert.True(t, c.WithinBusinessHours(at(3, 0), nil))
}
