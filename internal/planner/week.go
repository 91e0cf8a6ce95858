package planner

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultTimezone decides which week "now" falls in.
const DefaultTimezone = "Europe/Amsterdam"

var ErrInvalidWeek = errors.New("invalid week key")

var weekKeyRe = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)

// WeekKey renders the ISO week of t in loc as "2025-W35".
func WeekKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// ParseWeekKey validates a week key.
func ParseWeekKey(s string) (string, error) {
	m := weekKeyRe.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeek, s)
	}
	if week, _ := strconv.Atoi(m[2]); week < 1 || week > 53 {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeek, s)
	}
	return s, nil
}

// KeyFromWeekStart converts the older Monday date keys ("2025-08-25").
func KeyFromWeekStart(date string) (string, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("%w: week start %q", ErrInvalidWeek, date)
	}
	return WeekKey(t, time.UTC), nil
}
