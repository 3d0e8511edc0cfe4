package staffing

import (
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
)

// Attendance statuses of a scheduled shift.
const (
	StatusAttended = "Attended"
	StatusLate     = "Late"
	StatusMissing  = "Missing"
	StatusAbsent   = "Absent"
	StatusNotYet   = "NotYet"
)

// Attendance is one check-in, optionally closed by a check-out. A check-out
// earlier than the check-in belongs to the following day.
type Attendance struct {
	ID        string       `json:"id"`
	StaffID   string       `json:"staff_id"`
	StaffName string       `json:"staff_name,omitempty"`
	Date      dates.Date   `json:"date"`
	CheckIn   dates.Clock  `json:"check_in_time"`
	CheckOut  *dates.Clock `json:"check_out_time,omitempty"`
	Note      string       `json:"note"`
}

func (a Attendance) Validate() error {
	if a.StaffID == "" {
		return apperr.Invalid("staff_id is required")
	}
	if a.Date.IsZero() {
		return apperr.Invalid("date is required")
	}
	if a.CheckOut != nil && *a.CheckOut == a.CheckIn {
		return apperr.Invalid("check_out_time must differ from check_in_time")
	}
	return nil
}

// Span returns the record's check-in and check-out instants. An open record
// ends at its check-in.
func (a Attendance) Span() (time.Time, time.Time) {
	in := a.Date.At(a.CheckIn)
	if a.CheckOut == nil {
		return in, in
	}
	out := a.Date.At(*a.CheckOut)
	if out.Before(in) {
		out = a.Date.AddDays(1).At(*a.CheckOut)
	}
	return in, out
}

// ShiftStatus grades how staffID attended occ given their records. Shifts
// that have not started yet are NotYet; after that an overlapping record
// without check-out is Missing, a late check-in or early check-out is Late
// and anything else overlapping is Attended. No overlapping record means
// Absent.
func ShiftStatus(records []Attendance, occ Occurrence, now time.Time) string {
	start, end := occ.Window()
	if now.Before(start) {
		return StatusNotYet
	}
	for _, rec := range records {
		if rec.StaffID != occ.StaffID || !rec.Date.Equal(occ.Date) {
			continue
		}
		in, out := rec.Span()
		if in.After(end) {
			continue
		}
		if rec.CheckOut == nil {
			return StatusMissing
		}
		if out.Before(start) {
			continue
		}
		if in.After(start) || out.Before(end) {
			return StatusLate
		}
		return StatusAttended
	}
	return StatusAbsent
}

// Removable reports whether an occurrence with status may still be taken off
// the schedule.
func Removable(status string) bool {
	return status == StatusNotYet || status == StatusAbsent
}
