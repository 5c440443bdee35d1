package clock

import (
	"fmt"
	"time"
)

// School tells the time in the institution's fixed UTC offset. The host
// timezone is never consulted: devices and servers in different zones must
// agree on what "now" and "today" mean for the ticket rules.
type School struct {
	loc   *time.Location
	nowFn func() time.Time
}

// New creates a clock at the given offset from UTC, in whole hours.
func New(offsetHours int) *School {
	name := fmt.Sprintf("UTC%+d", offsetHours)
	return &School{
		loc:   time.FixedZone(name, offsetHours*3600),
		nowFn: time.Now,
	}
}

// NewFrozen creates a clock that always reports the given instant, for tests.
func NewFrozen(offsetHours int, at time.Time) *School {
	c := New(offsetHours)
	c.nowFn = func() time.Time { return at }
	return c
}

// Now returns the current instant in the school's zone.
func (c *School) Now() time.Time {
	return c.nowFn().UTC().In(c.loc)
}

// Today returns the school-local calendar date as YYYY-MM-DD. This, not the
// UTC date, keys the redemption ledger so a redemption near midnight lands
// on the right day.
func (c *School) Today() string {
	return c.Now().Format("2006-01-02")
}
