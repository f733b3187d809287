package models

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day, stored as the offset from midnight.
type ClockTime time.Duration

const day = 24 * time.Hour

// ParseClock accepts "HH:MM:SS" and "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return ClockOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid clock time %q", s)
}

// MustClock is ParseClock for constants and tests.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in t's own location.
func ClockOf(t time.Time) ClockTime {
	h, m, s := t.Clock()
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	return ClockTime(d + time.Duration(t.Nanosecond()))
}

func (c ClockTime) String() string {
	d := time.Duration(c) % day
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
