package booking

import (
	"net/url"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) dates.Date {
	v, err := dates.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return v
}

func c(s string) dates.Clock {
	v, err := dates.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return v
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewScheduleWalkIn(t *testing.T) {
	today := d("2025-03-03")
	s, err := NewSchedule(today, dates.Date{}, c("18:00"), c("19:00"), nil, today)
	require.NoError(t, err)
	assert.True(t, s.WalkIn())
	assert.Equal(t, []int{}, s.DaysOfWeek)
	assert.Len(t, s.Dates(), 1)

	_, err = NewSchedule(today, d("2025-03-04"), c("18:00"), c("19:00"), nil, today)
	assert.Error(t, err)
}

func TestNewScheduleValidation(t *testing.T) {
	today := d("2025-03-03")
	cases := map[string]struct {
		start, end dates.Date
		from, to   dates.Clock
		days       []int
	}{
		"time order":     {today, today, c("19:00"), c("18:00"), nil},
		"equal times":    {today, today, c("18:00"), c("18:00"), nil},
		"past start":     {d("2025-03-02"), today, c("18:00"), c("19:00"), []int{2}},
		"empty days":     {today, d("2025-03-10"), c("18:00"), c("19:00"), []int{}},
		"only bad days":  {today, d("2025-03-10"), c("18:00"), c("19:00"), []int{0, 9}},
		"reversed range": {d("2025-03-10"), d("2025-03-05"), c("18:00"), c("19:00"), []int{2}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSchedule(tc.start, tc.end, tc.from, tc.to, tc.days, today)
			assert.Error(t, err)
		})
	}
}

func TestScheduleDatesOnlySelectedDays(t *testing.T) {
	today := d("2025-03-01")
	s, err := NewSchedule(d("2025-03-03"), d("2025-03-16"), c("18:00"), c("19:00"), []int{8, 2, 2, 4}, today)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 8}, s.DaysOfWeek)

	var got []string
	for _, day := range s.Dates() {
		got = append(got, day.String())
	}
	assert.Equal(t, []string{
		"2025-03-03", "2025-03-05", "2025-03-09",
		"2025-03-10", "2025-03-12", "2025-03-16",
	}, got)
}

func TestConflicts(t *testing.T) {
	taken := []Slot{{Date: d("2025-03-03"), Start: c("18:00"), End: c("19:00")}}
	wanted := []Slot{
		{Date: d("2025-03-03"), Start: c("19:00"), End: c("20:00")},
		{Date: d("2025-03-03"), Start: c("18:30"), End: c("19:30")},
		{Date: d("2025-03-04"), Start: c("18:00"), End: c("19:00")},
	}
	got := Conflicts(wanted, taken)
	require.Len(t, got, 1)
	assert.Equal(t, c("18:30"), got[0].Start)
	assert.True(t, Collides(taken[0], wanted[1]))
	assert.True(t, Collides(wanted[1], taken[0]))
}

func TestDeposit(t *testing.T) {
	full := dec("250000")
	assert.True(t, Deposit(full, true, nil).Equal(full))
	assert.True(t, Deposit(full, false, nil).Equal(dec("75000")))
	half := dec("0.5")
	assert.True(t, Deposit(full, false, &half).Equal(dec("125000")))
	over := dec("1.7")
	assert.True(t, Deposit(full, false, &over).Equal(full))
	neg := dec("-0.2")
	assert.True(t, Deposit(full, false, &neg).IsZero())
	odd := dec("0.333")
	assert.True(t, Deposit(dec("100.05"), false, &odd).Equal(dec("33.32")))
}

func TestMembershipDiscount(t *testing.T) {
	assert.True(t, MembershipDiscount(dec("200000"), dec("10")).Equal(dec("20000")))
	assert.True(t, MembershipDiscount(dec("200000"), decimal.Zero).IsZero())
	assert.True(t, MembershipDiscount(dec("200000"), dec("150")).Equal(dec("200000")))
}

func TestLateFee(t *testing.T) {
	slot := Slot{Date: d("2025-03-03"), Start: c("18:00"), End: c("20:00")}
	end := slot.Date.At(slot.End)
	total := dec("240000") // 2000 per minute

	mins, fee := LateFee(end.Add(-time.Minute), slot, total, dec("150"))
	assert.Equal(t, 0, mins)
	assert.True(t, fee.IsZero())

	mins, fee = LateFee(end.Add(15*time.Minute), slot, total, dec("150"))
	assert.Equal(t, 15, mins)
	assert.True(t, fee.IsZero())

	// 25 minutes late: 10 chargeable minutes at 2000 * 150%.
	mins, fee = LateFee(end.Add(25*time.Minute), slot, total, dec("150"))
	assert.Equal(t, 25, mins)
	assert.True(t, fee.Equal(dec("30000")), fee.String())

	// Fractional rates round up.
	mins, fee = LateFee(end.Add(16*time.Minute), slot, dec("1000"), dec("100"))
	assert.Equal(t, 16, mins)
	assert.True(t, fee.Equal(dec("9")), fee.String())
}

func TestFormatOverdue(t *testing.T) {
	assert.Equal(t, "0m", FormatOverdue(0))
	assert.Equal(t, "40m", FormatOverdue(40))
	assert.Equal(t, "1h 05m", FormatOverdue(65))
}

func TestNormalizeMethod(t *testing.T) {
	m, err := NormalizeMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodBank, m)
	_, err = NormalizeMethod("Crypto")
	assert.Error(t, err)
}

func TestTransferQR(t *testing.T) {
	raw := TransferQR{Account: "ACC1", Bank: "MBBank"}.URL(dec("75000.40"), "PM-03032025-000001")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "qr.sepay.vn", u.Host)
	assert.Equal(t, "75000", u.Query().Get("amount"))
	assert.Equal(t, "PM-03032025-000001", u.Query().Get("des"))
}
