package textutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"maze.io/x/duration"
)

// FormatPlace converts a numeric place (1, 2, 3, ...) to a string ("1st", "2nd", "3rd", ...).
func FormatPlace(place int) string {
	suffix := "th"
	if place%100 < 11 || place%100 > 13 {
		switch place % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", place, suffix)
}

// FormatRemaining renders a duration as "Xh Ym", dropping seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	hours := ms / (60 * 60 * 1000)
	minutes := (ms % (60 * 60 * 1000)) / (60 * 1000)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// FormatDay renders the UTC calendar date as DD-MM-YYYY.
func FormatDay(t time.Time) string {
	return t.UTC().Format("02-01-2006")
}

// ParseDays accepts a bare number of days ("7", "0.5") or a duration with
// units ("1w", "36h", "1d12h") and returns fractional days.
func ParseDays(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if days, err := strconv.ParseFloat(s, 64); err == nil {
		return days, nil
	}
	d, err := duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("can't parse %q as days or duration: %w", s, err)
	}
	return time.Duration(d).Hours() / 24, nil
}

// JoinInts concatenates the elements of an int slice with a separator.
func JoinInts(elems []int, sep string) string {
	strs := make([]string, len(elems))
	for i, v := range elems {
		strs[i] = strconv.Itoa(v)
	}
	return strings.Join(strs, sep)
}
