package payroll

import "time"

// DateLayout is the storage and wire format for calendar days.
const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// Today returns the current calendar day in UTC.
func Today() time.Time { return DateOf(time.Now()) }

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// Clock supplies the current time. Tests replace it with a fixed clock.
type Clock func() time.Time

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock { return func() time.Time { return t } }

// Now returns the current instant in UTC; a nil Clock uses time.Now.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func (c Clock) Today() time.Time { return DateOf(c.Now()) }
