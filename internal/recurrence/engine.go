// Package recurrence computes the next occurrence of a scheduled message from
// an anchor instant and a recurrence rule. It is pure: no I/O, no clock.
package recurrence

import (
	"time"

	"github.com/coursard/messaging/internal/model"
)

// customScanWindow bounds the day-by-day weekday scan for custom weekly rules.
const customScanWindow = 14

// Next returns the occurrence following anchor under rule. ok is false when
// the rule yields no further occurrence (none, unknown kind, or a malformed
// custom rule). Every returned instant is strictly after anchor.
func Next(anchor time.Time, rule model.RecurrenceRule) (next time.Time, ok bool) {
	switch rule.Kind {
	case model.RuleNone, "":
		return time.Time{}, false

	case model.RuleDaily:
		return anchor.AddDate(0, 0, 1), true

	case model.RuleWeekly:
		// The requested weekday travels on the rule but is not used to snap
		// the result; advancement is always exactly one week from the anchor.
		return anchor.AddDate(0, 0, 7), true

	case model.RuleWeekdaysOnly:
		next := anchor.AddDate(0, 0, 1)
		switch next.Weekday() {
		case time.Saturday:
			next = next.AddDate(0, 0, 2)
		case time.Sunday:
			next = next.AddDate(0, 0, 1)
		}
		return next, true

	case model.RuleMonthlyFirstDay:
		return firstOfNextMonth(anchor), true

	case model.RuleMonthlyThirdMonday:
		d := firstOfNextMonth(anchor)
		for d.Weekday() != time.Monday {
			d = d.AddDate(0, 0, 1)
		}
		return d.AddDate(0, 0, 14), true

	case model.RuleYearly:
		return anchor.AddDate(1, 0, 0), true

	case model.RuleCustom:
		return nextCustom(anchor, rule)
	}

	return time.Time{}, false
}

func nextCustom(anchor time.Time, rule model.RecurrenceRule) (time.Time, bool) {
	if rule.Interval <= 0 {
		return time.Time{}, false
	}

	switch rule.Unit {
	case model.UnitDays:
		return anchor.AddDate(0, 0, rule.Interval), true

	case model.UnitWeeks:
		if len(rule.Weekdays) == 0 {
			return anchor.AddDate(0, 0, 7*rule.Interval), true
		}
		for d := 1; d <= customScanWindow; d++ {
			candidate := anchor.AddDate(0, 0, d)
			if weekdayIn(candidate.Weekday(), rule.Weekdays) {
				return candidate, true
			}
		}
		return anchor.AddDate(0, 0, 7*rule.Interval), true

	case model.UnitMonths:
		return anchor.AddDate(0, rule.Interval, 0), true
	}

	return time.Time{}, false
}

func weekdayIn(day time.Weekday, set []time.Weekday) bool {
	for _, d := range set {
		if d == day {
			return true
		}
	}
	return false
}

func firstOfNextMonth(anchor time.Time) time.Time {
	y, m, _ := anchor.Date()
	h, min, sec := anchor.Clock()
	return time.Date(y, m+1, 1, h, min, sec, anchor.Nanosecond(), anchor.Location())
}
