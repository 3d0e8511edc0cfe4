package availability

import (
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
)

func at(s string) dates.Clock {
	c, err := dates.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func TestFreeSlots_Basic(t *testing.T) {
	busy := []Interval{{Start: at("09:15"), End: at("09:45")}}

	slots := FreeSlots(at("09:00"), at("10:00"), 15*time.Minute, 15*time.Minute, busy, at("00:00"))
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if slots[0].Start != at("09:00") {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start)
	}
	if slots[1].Start != at("09:45") {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Start)
	}
}

func TestFreeSlots_SkipsPast(t *testing.T) {
	slots := FreeSlots(at("09:00"), at("10:00"), 15*time.Minute, 15*time.Minute, nil, at("09:31"))
	// 09:00, 09:15, 09:30 start before the cutoff. 09:45 is still ahead.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if slots[0].Start != at("09:45") {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Start)
	}
}

func TestOverlapsIsSymmetricAndHalfOpen(t *testing.T) {
	cases := []struct {
		a, b Interval
		want bool
	}{
		{Interval{at("18:00"), at("19:00")}, Interval{at("18:30"), at("19:30")}, true},
		{Interval{at("18:00"), at("19:00")}, Interval{at("19:00"), at("20:00")}, false},
		{Interval{at("18:00"), at("22:00")}, Interval{at("19:00"), at("20:00")}, true},
		{Interval{at("06:00"), at("07:00")}, Interval{at("08:00"), at("09:00")}, false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.a, tc.b); got != tc.want {
			t.Fatalf("Overlaps(%v,%v)=%v want %v", tc.a, tc.b, got, tc.want)
		}
		if got := Overlaps(tc.b, tc.a); got != tc.want {
			t.Fatalf("Overlaps is not symmetric for %v,%v", tc.a, tc.b)
		}
	}
}
