package dates

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with second precision.
type Clock struct {
	sec int
}

func NewClock(hour, minute, second int) Clock {
	return Clock{sec: hour*3600 + minute*60 + second}
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute(), t.Second())
}

// ParseClock accepts HH:MM or HH:MM:SS.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockOf(t), nil
		}
	}
	// Postgres may render fractional seconds.
	if i := strings.IndexByte(s, '.'); i > 0 {
		return ParseClock(s[:i])
	}
	return Clock{}, fmt.Errorf("invalid time %q (want HH:MM[:SS])", s)
}

func (c Clock) Seconds() int { return c.sec }
func (c Clock) Minutes() int { return c.sec / 60 }
func (c Clock) Duration() time.Duration { return time.Duration(c.sec) * time.Second }
func (c Clock) Before(o Clock) bool { return c.sec < o.sec }
func (c Clock) After(o Clock) bool { return c.sec > o.sec }
func (c Clock) Sub(o Clock) time.Duration { return time.Duration(c.sec-o.sec) * time.Second }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.sec/3600, (c.sec/60)%60, c.sec%60)
}

// Hours between c and a later clock o, as a fraction.
func (c Clock) HoursUntil(o Clock) float64 {
	return float64(o.sec-c.sec) / 3600
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid time: %w", err)
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Clock) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Clock) Scan(src any) error {
	switch v := src.(type) {
	case string:
		p, err := ParseClock(v)
		if err != nil {
			return err
		}
		*c = p
	case []byte:
		p, err := ParseClock(string(v))
		if err != nil {
			return err
		}
		*c = p
	case time.Time:
		*c = ClockOf(v)
	case int64:
		// microseconds since midnight
		*c = Clock{sec: int(v / 1_000_000)}
	default:
		return fmt.Errorf("cannot scan %T into dates.Clock", src)
	}
	return nil
}
