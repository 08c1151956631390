package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type RuleKind string

const (
	RuleNone               RuleKind = "none"
	RuleDaily              RuleKind = "daily"
	RuleWeekly             RuleKind = "weekly"
	RuleWeekdaysOnly       RuleKind = "weekdays_only"
	RuleMonthlyFirstDay    RuleKind = "monthly_first_day"
	RuleMonthlyThirdMonday RuleKind = "monthly_third_monday"
	RuleYearly             RuleKind = "yearly"
	RuleCustom             RuleKind = "custom"
)

type IntervalUnit string

const (
	UnitDays   IntervalUnit = "days"
	UnitWeeks  IntervalUnit = "weeks"
	UnitMonths IntervalUnit = "months"
)

// RecurrenceRule describes how to advance a schedule from one occurrence to
// the next. The zero value means "no recurrence". Only the fields relevant to
// Kind are meaningful; the rest stay zero.
type RecurrenceRule struct {
	Kind RuleKind `json:"kind"`

	// Weekday is carried on weekly rules for reporting. The engine advances a
	// fixed seven days and does not snap onto it.
	Weekday time.Weekday `json:"weekday,omitempty"`

	// Custom rule fields.
	Interval int            `json:"interval,omitempty"`
	Unit     IntervalUnit   `json:"unit,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

func (r RecurrenceRule) IsNone() bool {
	return r.Kind == "" || r.Kind == RuleNone
}

// Value implements driver.Valuer; rules are stored as a JSON column.
func (r RecurrenceRule) Value() (driver.Value, error) {
	if r.IsNone() {
		r = RecurrenceRule{Kind: RuleNone}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. NULL decodes to the none rule.
func (r *RecurrenceRule) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = RecurrenceRule{Kind: RuleNone}
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("recurrence rule: cannot scan %T", src)
	}
}
