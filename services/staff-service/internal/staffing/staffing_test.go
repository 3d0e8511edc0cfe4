package staffing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock(h, m int) dates.Clock { return dates.NewClock(h, m, 0) }

func clockPtr(h, m int) *dates.Clock {
	c := clock(h, m)
	return &c
}

// July 2025: the 1st is a Tuesday, the 12th a Saturday.
func july(d int) dates.Date { return dates.NewDate(2025, time.July, d) }

var (
	morning = Shift{ID: "morning", Name: "Morning", StartTime: clock(8, 0), EndTime: clock(12, 0), IsActive: true}
	night   = Shift{ID: "night", Name: "Night", StartTime: clock(22, 0), EndTime: clock(6, 0), IsActive: true}
	later   = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
)

func record(day dates.Date, in dates.Clock, out *dates.Clock) Attendance {
	return Attendance{StaffID: "s1", Date: day, CheckIn: in, CheckOut: out}
}

func occurrence(shift Shift, day dates.Date) Occurrence {
	return Occurrence{StaffID: "s1", Shift: shift, Date: day}
}

func TestShiftStatus(t *testing.T) {
	occ := occurrence(morning, july(7))
	cases := []struct {
		name    string
		records []Attendance
		want    string
	}{
		{"no records", nil, StatusAbsent},
		{"open record", []Attendance{record(july(7), clock(8, 0), nil)}, StatusMissing},
		{"late check-in", []Attendance{record(july(7), clock(8, 10), clockPtr(12, 0))}, StatusLate},
		{"early check-out", []Attendance{record(july(7), clock(7, 50), clockPtr(11, 0))}, StatusLate},
		{"covered", []Attendance{record(july(7), clock(7, 55), clockPtr(12, 5))}, StatusAttended},
		{"other day", []Attendance{record(july(8), clock(8, 0), clockPtr(12, 0))}, StatusAbsent},
		{"after the shift", []Attendance{record(july(7), clock(13, 0), clockPtr(17, 0))}, StatusAbsent},
		{"other staff", []Attendance{{StaffID: "s2", Date: july(7), CheckIn: clock(8, 0), CheckOut: clockPtr(12, 0)}}, StatusAbsent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShiftStatus(tc.records, occ, later))
		})
	}
}

func TestShiftStatusBeforeStartIsNotYet(t *testing.T) {
	occ := occurrence(morning, july(7))
	now := july(7).At(clock(7, 0))
	assert.Equal(t, StatusNotYet, ShiftStatus(nil, occ, now))
}

func TestShiftStatusOvernight(t *testing.T) {
	occ := occurrence(night, july(7))
	start, end := occ.Window()
	assert.Equal(t, july(7).At(clock(22, 0)), start)
	assert.Equal(t, july(8).At(clock(6, 0)), end)

	full := []Attendance{record(july(7), clock(21, 55), clockPtr(6, 0))}
	assert.Equal(t, StatusAttended, ShiftStatus(full, occ, later))

	early := []Attendance{record(july(7), clock(22, 0), clockPtr(5, 0))}
	assert.Equal(t, StatusLate, ShiftStatus(early, occ, later))
}

func TestSpanRollsCheckoutPastMidnight(t *testing.T) {
	in, out := record(july(7), clock(22, 0), clockPtr(2, 0)).Span()
	assert.Equal(t, 4*time.Hour, out.Sub(in))
}

func TestFixedSalaryCountsFullAndHalfDays(t *testing.T) {
	s := SalarySettings{SalaryType: SalaryFixed, SalaryAmount: decimal.NewFromInt(3_000_000)}
	records := []Attendance{
		record(july(1), clock(8, 0), clockPtr(17, 0)),
		record(july(2), clock(8, 0), clockPtr(13, 0)),
		record(july(3), clock(8, 0), clockPtr(10, 0)),
		record(july(4), clock(8, 0), nil),
		record(july(5), clock(8, 0), clockPtr(12, 0)),
		record(july(5), clock(13, 0), clockPtr(17, 0)),
	}
	// Two full days and one half day at 100,000 a day.
	assert.Equal(t, "250000", Salary(s, records, nil).String())
}

func TestHourlySalaryPaysOverlapOnly(t *testing.T) {
	s := SalarySettings{SalaryType: SalaryHourly, SalaryAmount: decimal.NewFromInt(30_000)}
	records := []Attendance{record(july(7), clock(8, 30), clockPtr(12, 30))}
	shifts := []Occurrence{occurrence(morning, july(7)), occurrence(morning, july(8))}
	assert.Equal(t, "105000", Salary(s, records, shifts).String())
}

func TestHourlySalaryAdvancedRowsAndWeekendFactor(t *testing.T) {
	s := SalarySettings{
		SalaryType:   SalaryHourly,
		SalaryAmount: decimal.NewFromInt(10_000),
		ShowAdvanced: true,
		AdvancedRows: []AdvancedRow{
			{ShiftID: "other", Amount: decimal.NewFromInt(20_000)},
			{ShiftID: "morning", Amount: decimal.NewFromInt(40_000), Saturday: "150%"},
		},
	}
	records := []Attendance{
		record(july(12), clock(8, 0), clockPtr(12, 0)),
		record(july(13), clock(8, 0), clockPtr(9, 0)),
	}
	shifts := []Occurrence{occurrence(morning, july(12)), occurrence(morning, july(13))}
	// Saturday 4h at 60,000 plus Sunday 1h at 40,000.
	assert.Equal(t, "280000", Salary(s, records, shifts).String())
}

func TestAdvancedRowFallsBackToFirst(t *testing.T) {
	s := SalarySettings{
		SalaryType:   SalaryShift,
		ShowAdvanced: true,
		AdvancedRows: []AdvancedRow{{ShiftID: "other", Amount: decimal.NewFromInt(150_000), Sunday: "200%"}},
	}
	records := []Attendance{record(july(13), clock(8, 0), clockPtr(12, 0))}
	assert.Equal(t, "300000", Salary(s, records, []Occurrence{occurrence(morning, july(13))}).String())
}

func TestShiftSalaryCountsAttendedShifts(t *testing.T) {
	s := SalarySettings{SalaryType: SalaryShift, SalaryAmount: decimal.NewFromInt(200_000)}
	records := []Attendance{record(july(7), clock(9, 0), clockPtr(10, 0))}
	shifts := []Occurrence{occurrence(morning, july(7)), occurrence(morning, july(8))}
	assert.Equal(t, "200000", Salary(s, records, shifts).String())
}

func TestOvernightHourlySalary(t *testing.T) {
	s := SalarySettings{SalaryType: SalaryHourly, SalaryAmount: decimal.NewFromInt(25_000)}
	records := []Attendance{record(july(7), clock(22, 0), clockPtr(6, 0))}
	assert.Equal(t, "200000", Salary(s, records, []Occurrence{occurrence(night, july(7))}).String())
}

func TestSalaryIsTruncated(t *testing.T) {
	s := SalarySettings{SalaryType: SalaryHourly, SalaryAmount: decimal.NewFromInt(10_001)}
	records := []Attendance{record(july(7), clock(8, 0), clockPtr(8, 30))}
	assert.Equal(t, "5000", Salary(s, records, []Occurrence{occurrence(morning, july(7))}).String())
}

func TestParsePercent(t *testing.T) {
	assert.True(t, ParsePercent("150%").Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, ParsePercent(" 200% ").Equal(decimal.NewFromInt(2)))
	assert.True(t, ParsePercent("").Equal(decimal.NewFromInt(1)))
	assert.True(t, ParsePercent("abc%").Equal(decimal.NewFromInt(1)))
	// Without the sign the value is not a percentage.
	assert.True(t, ParsePercent("150").Equal(decimal.NewFromInt(1)))
	assert.Error(t, SalarySettings{SalaryType: SalaryShift, AdvancedRows: []AdvancedRow{{Sunday: "150"}}}.Validate())
}

func TestAdvancedWithoutRowsPaysNothing(t *testing.T) {
	records := []Attendance{record(july(7), clock(8, 0), clockPtr(12, 0))}
	shifts := []Occurrence{occurrence(morning, july(7))}

	empty := SalarySettings{SalaryType: SalaryHourly, SalaryAmount: decimal.NewFromInt(30_000), ShowAdvanced: true, AdvancedRows: []AdvancedRow{}}
	assert.Equal(t, "0", Salary(empty, records, shifts).String())
	assert.False(t, empty.Pays())

	absent := SalarySettings{SalaryType: SalaryHourly, SalaryAmount: decimal.NewFromInt(30_000), ShowAdvanced: true}
	assert.Equal(t, "120000", Salary(absent, records, shifts).String())
	assert.True(t, absent.Pays())
}

func TestSalarySettingsJSON(t *testing.T) {
	var s SalarySettings
	raw := `{"salaryType":"hourly","salaryAmount":"25000","showAdvanced":"True","advancedRows":[{"shiftId":"a","amount":30000,"saturday":"150%"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	assert.True(t, bool(s.ShowAdvanced))
	require.NoError(t, s.Validate())
	assert.True(t, s.Pays())

	bad := SalarySettings{SalaryType: "weekly"}
	assert.Error(t, bad.Validate())
	bad = SalarySettings{SalaryType: SalaryShift, AdvancedRows: []AdvancedRow{{Saturday: "lots"}}}
	assert.Error(t, bad.Validate())
	assert.False(t, SalarySettings{SalaryType: SalaryFixed}.Pays())
}

func TestExpand(t *testing.T) {
	shifts := map[string]Shift{"morning": morning, "night": night}
	end := july(8)
	schedules := []Schedule{
		{ID: "fixed", StaffID: "s1", StaffName: "An", ShiftID: "morning", IsFixed: true, StartDate: july(1), ByDay: []string{"MO", "WE"}},
		{ID: "dup", StaffID: "s1", StaffName: "An", ShiftID: "morning", IsFixed: true, StartDate: july(1), EndDate: &end, ByDay: []string{"MO"}},
		{ID: "once", StaffID: "s2", StaffName: "Binh", ShiftID: "night", StartDate: july(5)},
		{ID: "old", StaffID: "s2", StaffName: "Binh", ShiftID: "night", StartDate: dates.NewDate(2025, time.June, 30)},
		{ID: "ghost", StaffID: "s3", ShiftID: "gone", StartDate: july(5)},
	}
	cancelled := []Cancellation{{StaffID: "s1", ShiftID: "morning", Date: july(9)}}

	got := Expand(schedules, shifts, cancelled, july(1), july(13))
	var days []string
	for _, o := range got {
		days = append(days, o.StaffID+"@"+o.Date.String())
	}
	assert.Equal(t, []string{"s1@2025-07-02", "s2@2025-07-05", "s1@2025-07-07"}, days)
	assert.Equal(t, "fixed", got[0].ScheduleID)
	assert.Equal(t, night, got[1].Shift)
}

func TestScheduleValidate(t *testing.T) {
	end := july(1)
	assert.Error(t, Schedule{StaffID: "s", ShiftID: "x"}.Validate())
	assert.Error(t, Schedule{StaffID: "s", ShiftID: "x", StartDate: july(2), IsFixed: true, ByDay: []string{"MO"}, EndDate: &end}.Validate())
	assert.Error(t, Schedule{StaffID: "s", ShiftID: "x", StartDate: july(2), IsFixed: true}.Validate())
	assert.Error(t, Schedule{StaffID: "s", ShiftID: "x", StartDate: july(2), IsFixed: true, ByDay: []string{"XX"}}.Validate())
	assert.NoError(t, Schedule{StaffID: "s", ShiftID: "x", StartDate: july(2)}.Validate())
}

func TestPayrollItemPay(t *testing.T) {
	item := PayrollItem{NetSalary: decimal.NewFromInt(1_000_000)}
	assert.Error(t, item.Pay(decimal.Zero))
	require.NoError(t, item.Pay(decimal.NewFromInt(400_000)))
	assert.Equal(t, ItemPending, item.Status)
	assert.Error(t, item.Pay(decimal.NewFromInt(600_001)))
	require.NoError(t, item.Pay(decimal.NewFromInt(600_000)))
	assert.Equal(t, ItemCompleted, item.Status)
	assert.True(t, item.Remaining().IsZero())
}

func TestPayrollSummarize(t *testing.T) {
	p := Payroll{Items: []PayrollItem{
		{NetSalary: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100)},
		{NetSalary: decimal.NewFromInt(50), PaidAmount: decimal.NewFromInt(20)},
	}}
	p.Summarize()
	assert.Equal(t, PayrollPending, p.Status)
	assert.Equal(t, "150", p.TotalNet.String())
	assert.Equal(t, "120", p.TotalPaid.String())
	assert.Equal(t, "30", p.Remaining.String())
	assert.True(t, p.HasPayments())

	p.Items[1].PaidAmount = decimal.NewFromInt(50)
	p.Summarize()
	assert.Equal(t, PayrollCompleted, p.Status)

	empty := Payroll{}
	empty.Summarize()
	assert.Equal(t, PayrollPending, empty.Status)
}

func TestPreviousMonth(t *testing.T) {
	first, last := PreviousMonth(dates.NewDate(2025, time.March, 1))
	assert.Equal(t, "2025-02-01", first.String())
	assert.Equal(t, "2025-02-28", last.String())

	first, last = PreviousMonth(dates.NewDate(2024, time.January, 15))
	assert.Equal(t, "2023-12-01", first.String())
	assert.Equal(t, "2023-12-31", last.String())
}

func TestComputePayrollSkipsIdleStaff(t *testing.T) {
	pay := SalarySettings{SalaryType: SalaryShift, SalaryAmount: decimal.NewFromInt(100_000)}
	members := []StaffMember{
		{ID: "s1", Name: "An", Settings: pay},
		{ID: "s2", Name: "Binh", Settings: pay},
		{ID: "s3", Name: "Chi", Settings: SalarySettings{SalaryType: SalaryShift}},
	}
	records := []Attendance{
		record(july(7), clock(8, 0), clockPtr(12, 0)),
		{StaffID: "s3", Date: july(7), CheckIn: clock(8, 0), CheckOut: clockPtr(12, 0)},
	}
	occs := []Occurrence{
		occurrence(morning, july(7)),
		{StaffID: "s3", Shift: morning, Date: july(7)},
	}

	got := ComputePayroll(members, records, occs, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].StaffID)
	assert.Equal(t, "100000", got[0].Amount.String())

	got = ComputePayroll(members, records, occs, map[string]bool{"s2": true})
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[1].StaffID)
	assert.True(t, got[1].Amount.IsZero())
}
