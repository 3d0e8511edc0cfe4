package availability

import (
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
)

// Interval is a half-open [Start, End) stretch of one day.
type Interval struct {
	Start dates.Clock `json:"start_time"`
	End   dates.Clock `json:"end_time"`
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// FreeSlots returns the intervals of length duration, stepped by step from
// open, that fit before close and miss every busy interval. Slots starting
// before notBefore are skipped.
func FreeSlots(open, close dates.Clock, duration, step time.Duration, busy []Interval, notBefore dates.Clock) []Interval {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !open.Before(close) {
		return nil
	}
	dur := int(duration / time.Second)
	stp := int(step / time.Second)
	if open.Seconds()+dur > close.Seconds() {
		return nil
	}

	var slots []Interval
	for t := open.Seconds(); t+dur <= close.Seconds(); t += stp {
		slot := Interval{Start: clockAt(t), End: clockAt(t + dur)}
		if slot.Start.Before(notBefore) {
			continue
		}
		if !overlapsAny(slot, busy) {
			slots = append(slots, slot)
		}
	}
	return slots
}

func clockAt(sec int) dates.Clock {
	return dates.NewClock(sec/3600, (sec%3600)/60, sec%60)
}

func overlapsAny(slot Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(slot, b) {
			return true
		}
	}
	return false
}
