// Package schedule decides when maintenance cycles run.
//
// Each cadence has a wall-clock boundary: daily at the configured time,
// weekly on Monday, monthly on the first of the month. A cadence is due when
// its last completed run predates the most recent boundary, so a host that
// was down over a boundary catches up at the next wake instead of dropping
// the window. The scheduler guards each cadence with an in-flight flag; a
// trigger that lands while the same cadence is still running is recorded as
// deferred, never run concurrently.
package schedule

import (
	"fmt"
	"time"
)

// Cadence is how often a maintenance cycle recurs.
type Cadence string

const (
	// CadenceDaily runs every day at the configured time.
	CadenceDaily Cadence = "daily"

	// CadenceWeekly runs every Monday at the configured time.
	CadenceWeekly Cadence = "weekly"

	// CadenceMonthly runs on the first of every month at the configured time.
	CadenceMonthly Cadence = "monthly"

	// CadenceOnDemand marks an operator-triggered cycle with no boundary.
	CadenceOnDemand Cadence = "on_demand"
)

// AllCadences returns the recurring cadences in execution order.
func AllCadences() []Cadence {
	return []Cadence{CadenceDaily, CadenceWeekly, CadenceMonthly}
}

// cadenceOrder fixes the serial execution order when cadences coincide.
var cadenceOrder = map[Cadence]int{
	CadenceDaily:    0,
	CadenceWeekly:   1,
	CadenceMonthly:  2,
	CadenceOnDemand: 3,
}

// Validate checks that the cadence is a recurring one.
func (c Cadence) Validate() error {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return nil
	default:
		return fmt.Errorf("invalid cadence: %s", c)
	}
}

// TimeOfDay is the wall-clock time maintenance boundaries fall on.
type TimeOfDay struct {
	Hour   int `json:"hour" yaml:"hour" validate:"min=0,max=23"`
	Minute int `json:"minute" yaml:"minute" validate:"min=0,max=59"`
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Previous returns the most recent boundary at or before now. On-demand has
// no boundary and returns now itself.
func (c Cadence) Previous(now time.Time, at TimeOfDay) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())

	switch c {
	case CadenceWeekly:
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		boundary := day.AddDate(0, 0, -offset)
		if boundary.After(now) {
			boundary = boundary.AddDate(0, 0, -7)
		}
		return boundary
	case CadenceMonthly:
		boundary := time.Date(now.Year(), now.Month(), 1, at.Hour, at.Minute, 0, 0, now.Location())
		if boundary.After(now) {
			boundary = boundary.AddDate(0, -1, 0)
		}
		return boundary
	case CadenceDaily:
		if day.After(now) {
			return day.AddDate(0, 0, -1)
		}
		return day
	default:
		return now
	}
}

// Next returns the first boundary strictly after now.
func (c Cadence) Next(now time.Time, at TimeOfDay) time.Time {
	prev := c.Previous(now, at)
	switch c {
	case CadenceWeekly:
		return prev.AddDate(0, 0, 7)
	case CadenceMonthly:
		return prev.AddDate(0, 1, 0)
	case CadenceDaily:
		return prev.AddDate(0, 0, 1)
	default:
		return now
	}
}

// Due reports whether the cadence should run: the last completed run
// predates the most recent boundary. A cadence that never ran is due, and
// on-demand is always due.
func (c Cadence) Due(lastRun, now time.Time, at TimeOfDay) bool {
	if c == CadenceOnDemand {
		return true
	}
	if lastRun.IsZero() {
		return true
	}
	return lastRun.Before(c.Previous(now, at))
}
