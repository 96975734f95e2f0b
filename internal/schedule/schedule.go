package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ServiceStatus is the derived maintenance urgency of an asset.
type ServiceStatus string

const (
	StatusCurrent ServiceStatus = "current"
	StatusDueSoon ServiceStatus = "due-soon"
	StatusOverdue ServiceStatus = "overdue"
)

// DueSoonWindowDays is the inclusive number of days before the due date in
// which an asset is reported as due soon.
const DueSoonWindowDays = 30

const (
	daysPerMonth = 30
	daysPerYear  = 365
	daysPerWeek  = 7
)

var (
	monthlyPattern = regexp.MustCompile(`^(\d+)?\s*-?\s*monthly$`)
	weeklyPattern  = regexp.MustCompile(`^(\d+)?\s*-?\s*weekly$`)
	leadingNumber  = regexp.MustCompile(`^(\d+)`)
)

// IsValid reports whether s is one of the known statuses.
func (s ServiceStatus) IsValid() bool {
	switch s {
	case StatusCurrent, StatusDueSoon, StatusOverdue:
		return true
	default:
		return false
	}
}

// ParseFrequency converts a service frequency as written by people
// ("90", "6-monthly", "yearly", "2 yearly", "annual") into a number of days.
// The second return value is false when the text cannot be interpreted.
func ParseFrequency(text string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, false
		}
		return n, true
	}

	if m := monthlyPattern.FindStringSubmatch(s); m != nil {
		return multiple(m[1], daysPerMonth)
	}
	if m := weeklyPattern.FindStringSubmatch(s); m != nil {
		return multiple(m[1], daysPerWeek)
	}

	if strings.Contains(s, "yearly") || strings.Contains(s, "annual") {
		n := 1
		if m := leadingNumber.FindStringSubmatch(s); m != nil {
			if parsed, err := strconv.Atoi(m[1]); err == nil && parsed > 0 {
				n = parsed
			}
		}
		return n * daysPerYear, true
	}

	return 0, false
}

func multiple(count string, unit int) (int, bool) {
	if count == "" {
		return unit, true
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n * unit, true
}

// Day returns the calendar date of t at midnight UTC. The year, month and day
// are read in t's own location so a date never shifts across a timezone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDue returns lastService plus frequencyDays calendar days, or nil when
// either input is missing.
func NextDue(lastService *time.Time, frequencyDays *int) *time.Time {
	if lastService == nil || frequencyDays == nil || *frequencyDays <= 0 {
		return nil
	}
	due := Day(*lastService).AddDate(0, 0, *frequencyDays)
	return &due
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// StatusOf classifies a due date relative to today. A missing due date is
// always current.
func StatusOf(nextDue *time.Time, today time.Time) ServiceStatus {
	if nextDue == nil {
		return StatusCurrent
	}
	delta := DaysBetween(today, *nextDue)
	switch {
	case delta < 0:
		return StatusOverdue
	case delta <= DueSoonWindowDays:
		return StatusDueSoon
	default:
		return StatusCurrent
	}
}

// Clock returns the current time. Tests replace it to pin "today".
type Clock func() time.Time

// Today returns the calendar date according to clock, or the wall clock when
// clock is nil.
func Today(clock Clock) time.Time {
	if clock == nil {
		return Day(time.Now())
	}
	return Day(clock())
}
