package staffing

import (
	"sort"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
)

type Shift struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	StartTime dates.Clock `json:"start_time"`
	EndTime   dates.Clock `json:"end_time"`
	IsActive  bool        `json:"is_active"`
}

// Overnight reports whether the shift ends on the following day.
func (s Shift) Overnight() bool {
	return !s.EndTime.After(s.StartTime)
}

// On returns the shift's window on day, rolling the end past midnight for
// overnight shifts.
func (s Shift) On(day dates.Date) (time.Time, time.Time) {
	start := day.At(s.StartTime)
	if s.Overnight() {
		return start, day.AddDays(1).At(s.EndTime)
	}
	return start, day.At(s.EndTime)
}

// Schedule assigns a staff member to a shift. A fixed schedule repeats on
// ByDay weekdays from StartDate until EndDate (open when nil); otherwise it
// is a single shift on StartDate.
type Schedule struct {
	ID        string      `json:"id"`
	StaffID   string      `json:"staff_id"`
	StaffName string      `json:"staff_name,omitempty"`
	ShiftID   string      `json:"shift_id"`
	IsFixed   bool        `json:"is_fixed_shift"`
	StartDate dates.Date  `json:"start_date"`
	EndDate   *dates.Date `json:"end_date,omitempty"`
	ByDay     []string    `json:"by_day"`
}

func (s Schedule) Validate() error {
	if s.StaffID == "" || s.ShiftID == "" {
		return apperr.Invalid("staff_id and shift_id are required")
	}
	if s.StartDate.IsZero() {
		return apperr.Invalid("start_date is required")
	}
	if !s.IsFixed {
		return nil
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return apperr.Invalid("end_date must not be before start_date")
	}
	if len(s.ByDay) == 0 {
		return apperr.Invalid("by_day is required for a fixed schedule")
	}
	if _, err := dates.ParseByDay(s.ByDay); err != nil {
		return apperr.Invalid("%s", err.Error())
	}
	return nil
}

// Covers reports whether the schedule produces a shift on day.
func (s Schedule) Covers(day dates.Date) bool {
	if !s.IsFixed {
		return day.Equal(s.StartDate)
	}
	if day.Before(s.StartDate) || (s.EndDate != nil && day.After(*s.EndDate)) {
		return false
	}
	days, err := dates.ParseByDay(s.ByDay)
	if err != nil {
		return false
	}
	for _, wd := range days {
		if wd == day.Weekday() {
			return true
		}
	}
	return false
}

// Cancellation removes one occurrence of a fixed schedule.
type Cancellation struct {
	StaffID string     `json:"staff_id"`
	ShiftID string     `json:"shift_id"`
	Date    dates.Date `json:"date"`
}

// Occurrence is one scheduled shift for one staff member on one day.
type Occurrence struct {
	ScheduleID string     `json:"schedule_id"`
	StaffID    string     `json:"staff_id"`
	StaffName  string     `json:"staff_name,omitempty"`
	Shift      Shift      `json:"shift"`
	Date       dates.Date `json:"date"`
	IsFixed    bool       `json:"is_fixed_shift"`
	Status     string     `json:"status,omitempty"`
}

func (o Occurrence) Window() (time.Time, time.Time) {
	return o.Shift.On(o.Date)
}

type occurrenceKey struct {
	staff string
	shift string
	day   string
}

// Expand turns schedules into the occurrences falling within [from, to].
// Schedules whose shift is unknown are skipped, cancelled occurrences are
// dropped and each (staff, shift, day) appears once.
func Expand(schedules []Schedule, shifts map[string]Shift, cancelled []Cancellation, from, to dates.Date) []Occurrence {
	skip := map[occurrenceKey]bool{}
	for _, c := range cancelled {
		skip[occurrenceKey{c.StaffID, c.ShiftID, c.Date.String()}] = true
	}
	seen := map[occurrenceKey]bool{}
	out := []Occurrence{}
	for _, s := range schedules {
		shift, ok := shifts[s.ShiftID]
		if !ok {
			continue
		}
		first, last := from, to
		if s.StartDate.After(first) {
			first = s.StartDate
		}
		if !s.IsFixed {
			last = s.StartDate
		} else if s.EndDate != nil && s.EndDate.Before(last) {
			last = *s.EndDate
		}
		for _, day := range dates.Range(first, last) {
			if !s.Covers(day) || day.After(to) {
				continue
			}
			key := occurrenceKey{s.StaffID, s.ShiftID, day.String()}
			if skip[key] || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Occurrence{
				ScheduleID: s.ID,
				StaffID:    s.StaffID,
				StaffName:  s.StaffName,
				Shift:      shift,
				Date:       day,
				IsFixed:    s.IsFixed,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Shift.StartTime != b.Shift.StartTime {
			return a.Shift.StartTime.Before(b.Shift.StartTime)
		}
		return a.StaffName < b.StaffName
	})
	return out
}

// ByStaff groups occurrences by staff id.
func ByStaff(occs []Occurrence) map[string][]Occurrence {
	out := map[string][]Occurrence{}
	for _, o := range occs {
		out[o.StaffID] = append(out[o.StaffID], o)
	}
	return out
}
