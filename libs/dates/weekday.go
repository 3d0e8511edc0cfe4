package dates

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Custom day-of-week numbering used by court pricing and fixed bookings:
// Monday=2 ... Saturday=7, Sunday=8.
const (
	CustomMonday = 2
	CustomSunday = 8
)

func CustomDayOfWeek(wd time.Weekday) int {
	if wd == time.Sunday {
		return CustomSunday
	}
	return int(wd) + 1
}

// WeekdayFromCustom is the inverse of CustomDayOfWeek.
func WeekdayFromCustom(day int) (time.Weekday, error) {
	if day < CustomMonday || day > CustomSunday {
		return 0, fmt.Errorf("day of week %d out of range 2..8", day)
	}
	if day == CustomSunday {
		return time.Sunday, nil
	}
	return time.Weekday(day - 1), nil
}

// NormalizeDays keeps valid custom days, removes duplicates and sorts.
func NormalizeDays(days []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < CustomMonday || d > CustomSunday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// ContainsDay reports whether days contains day.
func ContainsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

var icalDays = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// ParseByDay parses iCal BYDAY tokens (MO, TU, ...).
func ParseByDay(tokens []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(tokens))
	for _, tok := range tokens {
		wd, ok := icalDays[strings.ToUpper(strings.TrimSpace(tok))]
		if !ok {
			return nil, fmt.Errorf("invalid byday %q", tok)
		}
		out = append(out, wd)
	}
	return out, nil
}

// ByDayToken returns the iCal token for wd.
func ByDayToken(wd time.Weekday) string {
	for tok, d := range icalDays {
		if d == wd {
			return tok
		}
	}
	return ""
}
