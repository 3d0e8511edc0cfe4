// Package staffing holds the rules behind shifts, attendance and pay:
// expanding schedules into shift occurrences, grading attendance against a
// shift and turning both into a salary.
package staffing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
)

const (
	SalaryFixed  = "fixed"
	SalaryHourly = "hourly"
	SalaryShift  = "shift"
)

// Full and half working days for fixed salaries.
const (
	fullDayHours = 8
	halfDayHours = 4
	daysPerMonth = 30
)

// AdvancedRow overrides the rate for one shift. Saturday and Sunday hold a
// percentage such as "150%".
type AdvancedRow struct {
	ShiftID  string          `json:"shiftId"`
	Amount   decimal.Decimal `json:"amount"`
	Saturday string          `json:"saturday,omitempty"`
	Sunday   string          `json:"sunday,omitempty"`
}

type SalarySettings struct {
	SalaryType   string          `json:"salaryType"`
	SalaryAmount decimal.Decimal `json:"salaryAmount"`
	ShowAdvanced Flag            `json:"showAdvanced"`
	AdvancedRows []AdvancedRow   `json:"advancedRows"`
}

// Flag accepts JSON booleans as well as "True"/"false" strings written by
// older clients.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case string:
		*f = Flag(strings.EqualFold(strings.TrimSpace(t), "true"))
	case nil:
		*f = false
	default:
		return apperr.Invalid("showAdvanced must be a boolean")
	}
	return nil
}

func (s SalarySettings) Validate() error {
	switch s.SalaryType {
	case SalaryFixed, SalaryHourly, SalaryShift:
	default:
		return apperr.Invalid("salaryType must be fixed, hourly or shift")
	}
	if s.SalaryAmount.IsNegative() {
		return apperr.Invalid("salaryAmount must not be negative")
	}
	for i, row := range s.AdvancedRows {
		if row.Amount.IsNegative() {
			return apperr.Invalid("advancedRows[%d].amount must not be negative", i)
		}
		for _, p := range []string{row.Saturday, row.Sunday} {
			if _, ok := parsePercent(p); !ok {
				return apperr.Invalid("advancedRows[%d] has an invalid percentage %q", i, p)
			}
		}
	}
	return nil
}

// Pays reports whether the settings can produce a positive salary.
func (s SalarySettings) Pays() bool {
	if s.SalaryType == SalaryFixed || !s.ShowAdvanced || s.AdvancedRows == nil {
		return s.SalaryAmount.IsPositive()
	}
	for _, row := range s.AdvancedRows {
		if row.Amount.IsPositive() {
			return true
		}
	}
	return false
}

// ParsePercent turns "150%" into 1.5. Blank input, a number without the "%"
// sign or anything unparsable means 100%.
func ParsePercent(s string) decimal.Decimal {
	v, _ := parsePercent(s)
	return v
}

func parsePercent(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NewFromInt(1), true
	}
	num, ok := strings.CutSuffix(s, "%")
	if !ok {
		return decimal.NewFromInt(1), false
	}
	v, err := decimal.NewFromString(strings.TrimSpace(num))
	if err != nil || v.IsNegative() {
		return decimal.NewFromInt(1), false
	}
	return v.Div(decimal.NewFromInt(100)), true
}

// rate is the amount paid for one hour or one shift of shiftID on day.
// Advanced settings without a single row pay nothing; leaving advancedRows
// out entirely falls back to the flat amount.
func (s SalarySettings) rate(shiftID string, day dates.Date) decimal.Decimal {
	if !s.ShowAdvanced || s.AdvancedRows == nil {
		return s.SalaryAmount
	}
	if len(s.AdvancedRows) == 0 {
		return decimal.Zero
	}
	row := s.AdvancedRows[0]
	for _, r := range s.AdvancedRows {
		if r.ShiftID == shiftID {
			row = r
			break
		}
	}
	switch day.Weekday() {
	case time.Saturday:
		return row.Amount.Mul(ParsePercent(row.Saturday))
	case time.Sunday:
		return row.Amount.Mul(ParsePercent(row.Sunday))
	}
	return row.Amount
}

// Salary computes the pay for one staff member over a period from their
// attendance and their scheduled shift occurrences. The result is truncated
// to whole currency units.
func Salary(s SalarySettings, records []Attendance, shifts []Occurrence) decimal.Decimal {
	var total decimal.Decimal
	switch s.SalaryType {
	case SalaryFixed:
		total = fixedSalary(s.SalaryAmount, records)
	case SalaryHourly:
		for _, occ := range shifts {
			rec, ok := firstOverlap(records, occ)
			if !ok {
				continue
			}
			start, end := occ.Window()
			in, out := rec.Span()
			worked := minTime(end, out).Sub(maxTime(start, in))
			if worked <= 0 {
				continue
			}
			total = total.Add(hours(worked).Mul(s.rate(occ.Shift.ID, occ.Date)))
		}
	case SalaryShift:
		for _, occ := range shifts {
			if _, ok := firstOverlap(records, occ); ok {
				total = total.Add(s.rate(occ.Shift.ID, occ.Date))
			}
		}
	}
	return total.Truncate(0)
}

func fixedSalary(monthly decimal.Decimal, records []Attendance) decimal.Decimal {
	worked := map[dates.Date]time.Duration{}
	for _, rec := range records {
		if rec.CheckOut == nil {
			continue
		}
		in, out := rec.Span()
		worked[rec.Date] += out.Sub(in)
	}
	var full, half int64
	for _, d := range worked {
		switch {
		case d >= fullDayHours*time.Hour:
			full++
		case d >= halfDayHours*time.Hour:
			half++
		}
	}
	daily := monthly.Div(decimal.NewFromInt(daysPerMonth))
	return daily.Mul(decimal.NewFromInt(full)).Add(daily.Div(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(half)))
}

// firstOverlap returns the first completed record on the occurrence's day
// that overlaps its window.
func firstOverlap(records []Attendance, occ Occurrence) (Attendance, bool) {
	start, end := occ.Window()
	for _, rec := range records {
		if rec.StaffID != occ.StaffID || !rec.Date.Equal(occ.Date) || rec.CheckOut == nil {
			continue
		}
		in, out := rec.Span()
		if in.Before(end) && out.After(start) {
			return rec, true
		}
	}
	return Attendance{}, false
}

func hours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Second)).Div(decimal.NewFromInt(3600))
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
