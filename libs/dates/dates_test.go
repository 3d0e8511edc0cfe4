package dates

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomDayOfWeek(t *testing.T) {
	cases := map[time.Weekday]int{
		time.Monday:    2,
		time.Tuesday:   3,
		time.Wednesday: 4,
		time.Thursday:  5,
		time.Friday:    6,
		time.Saturday:  7,
		time.Sunday:    8,
	}
	for wd, want := range cases {
		assert.Equal(t, want, CustomDayOfWeek(wd), wd.String())
		back, err := WeekdayFromCustom(want)
		require.NoError(t, err)
		assert.Equal(t, wd, back)
	}
	_, err := WeekdayFromCustom(1)
	assert.Error(t, err)
}

func TestNormalizeDays(t *testing.T) {
	assert.Equal(t, []int{2, 5, 8}, NormalizeDays([]int{8, 5, 5, 1, 9, 2}))
	assert.Empty(t, NormalizeDays([]int{0, 9}))
}

func TestDateJSONAndRange(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-01"`), &d))
	assert.Equal(t, "2025-03-01", d.String())
	assert.Equal(t, time.Saturday, d.Weekday())

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"2025-03-01"`, string(out))

	r := Range(d, d.AddDays(2))
	require.Len(t, r, 3)
	assert.Equal(t, "2025-03-03", r[2].String())
	assert.Nil(t, Range(d, d.AddDays(-1)))
}

func TestClockParseAndFormat(t *testing.T) {
	c, err := ParseClock("07:30")
	require.NoError(t, err)
	assert.Equal(t, "07:30:00", c.String())

	c2, err := ParseClock("09:00:00.000000")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, c.HoursUntil(c2), 1e-9)
	assert.True(t, c.Before(c2))

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestDateAt(t *testing.T) {
	d := NewDate(2025, 3, 1)
	at := d.At(NewClock(18, 30, 0))
	assert.Equal(t, 18, at.Hour())
	assert.Equal(t, 30, at.Minute())
	assert.Equal(t, Location(), at.Location())
}

func TestScanVariants(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-01-02", d.String())

	var c Clock
	require.NoError(t, c.Scan(int64(3600*1_000_000)))
	assert.Equal(t, "01:00:00", c.String())
	require.NoError(t, c.Scan("22:15:00"))
	assert.Equal(t, 22*60+15, c.Minutes())
}

func TestParseByDay(t *testing.T) {
	days, err := ParseByDay([]string{"mo", "SU"})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Sunday}, days)
	assert.Equal(t, "FR", ByDayToken(time.Friday))
	_, err = ParseByDay([]string{"XX"})
	assert.Error(t, err)
}
