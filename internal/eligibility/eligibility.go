package eligibility

import (
	"fmt"
	"time"

	"snackticket/internal/schedule"
)

// State is the outcome of one eligibility evaluation. These are normal
// terminal states communicated to the student, not errors.
type State string

const (
	Eligible              State = "eligible"
	OutsideOperatingDay   State = "outside_operating_day"
	OutsideOperatingHours State = "outside_operating_hours"
	AlreadyRedeemed       State = "already_redeemed"
	WindowPassed          State = "window_passed"
	WindowNotYetOpen      State = "window_not_yet_open"
)

// Rules holds the institution-wide constants the engine evaluates against.
type Rules struct {
	OpeningMinute    int // operating hours start, minutes since midnight
	ClosingMinute    int // operating hours end, inclusive
	PreWindowMinutes int // early access before the break window opens
}

// Countdown is the floored time remaining until the break window opens.
type Countdown struct {
	Minutes int
	Seconds int
}

func (c Countdown) String() string {
	return fmt.Sprintf("%02d:%02d", c.Minutes, c.Seconds)
}

// Decision is the result of evaluating one student at one instant.
// Countdown is set only for WindowNotYetOpen.
type Decision struct {
	State     State
	Countdown *Countdown
}

// Evaluate decides whether a student may claim a ticket at now. It is a
// pure, total function: every input maps to exactly one state, and repeated
// calls with the same inputs agree. Rules are applied in a fixed order and
// the first match wins:
//
//  1. the privileged test identity is always eligible
//  2. outside operating days (Mon-Thu)
//  3. outside operating hours
//  4. today's ticket already redeemed
//  5. position relative to the class break window, with early access
//     opening PreWindowMinutes before the break
//
// Window boundaries are inclusive at both ends, including the exact
// pre-window mark.
func Evaluate(now time.Time, class schedule.Class, alreadyRedeemed, privileged bool, rules Rules) Decision {
	if privileged {
		return Decision{State: Eligible}
	}

	if wd := now.Weekday(); wd < time.Monday || wd > time.Thursday {
		return Decision{State: OutsideOperatingDay}
	}

	nowMinute := now.Hour()*60 + now.Minute()
	if nowMinute < rules.OpeningMinute || nowMinute > rules.ClosingMinute {
		return Decision{State: OutsideOperatingHours}
	}

	if alreadyRedeemed {
		return Decision{State: AlreadyRedeemed}
	}

	preStart := class.BreakStart - rules.PreWindowMinutes
	switch {
	case nowMinute >= preStart && nowMinute <= class.BreakEnd:
		return Decision{State: Eligible}
	case nowMinute > class.BreakEnd:
		return Decision{State: WindowPassed}
	default:
		// Truncate, never round: 00:00 must not show while still waiting,
		// and a fractional second still in flight counts as elapsed.
		remaining := class.BreakStart*60 - (nowMinute*60 + now.Second())
		if now.Nanosecond() > 0 {
			remaining--
		}
		return Decision{
			State:     WindowNotYetOpen,
			Countdown: &Countdown{Minutes: remaining / 60, Seconds: remaining % 60},
		}
	}
}
