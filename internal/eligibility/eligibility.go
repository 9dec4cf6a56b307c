// Package eligibility computes when a donor may give blood under a rule.
package eligibility

import (
	"fmt"
	"time"

	"donor_check/internal/model"
)

// State is the eligibility outcome for one rule.
type State int

// Eligibility states. Every normalized record maps to exactly one.
const (
	AllowedNow State = iota + 1
	PermanentlyBlocked
	EligibleFromDate
	ConditionallyBlocked
)

func (s State) String() string {
	switch s {
	case AllowedNow:
		return "allowed_now"
	case PermanentlyBlocked:
		return "permanently_blocked"
	case EligibleFromDate:
		return "eligible_from_date"
	case ConditionallyBlocked:
		return "conditionally_blocked"
	}
	return "unknown"
}

// DefaultCondition is shown for conditional rules without their own text.
const DefaultCondition = "의사와의 상담 후 가능"

// Result is the eligibility of a donor under one rule as of a base date.
type Result struct {
	State State
	// Date is set only for EligibleFromDate.
	Date time.Time
	// Condition is set only for ConditionallyBlocked.
	Condition string
	// Exception marks an allowed geographic exception.
	Exception bool
}

// Compute maps a record and a base date to an eligibility state. The
// restriction type is trusted before the period: a permanent record is
// blocked whatever its period says.
func Compute(rec model.RuleRecord, base time.Time) Result {
	if rec.Allowable {
		return Result{State: AllowedNow, Exception: rec.IsException}
	}
	if rec.RestrictionType == model.RestrictionPermanent {
		return Result{State: PermanentlyBlocked}
	}
	if rec.RestrictionPeriodDays > 0 {
		return Result{State: EligibleFromDate, Date: Day(base).AddDate(0, 0, rec.RestrictionPeriodDays)}
	}
	if rec.RestrictionType == model.RestrictionNone && rec.RestrictionPeriodDays == 0 {
		return Result{State: AllowedNow}
	}

	cond := rec.Condition
	if cond == "" {
		cond = DefaultCondition
	}
	return Result{State: ConditionallyBlocked, Condition: cond}
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Message renders the result in the catalog's language.
func (r Result) Message() string {
	switch r.State {
	case AllowedNow:
		if r.Exception {
			return "예외적으로 가능"
		}
		return "가능"
	case PermanentlyBlocked:
		return "영구 불가"
	case EligibleFromDate:
		return fmt.Sprintf("%s부터 가능", FormatDate(r.Date))
	default:
		return r.Condition
	}
}

// FormatDate renders a date as YYYY년MM월DD일.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%04d년%02d월%02d일", t.Year(), int(t.Month()), t.Day())
}

var unitLabels = map[model.PeriodUnit]string{
	model.UnitDay:   "일",
	model.UnitWeek:  "주",
	model.UnitMonth: "개월",
	model.UnitYear:  "년",
}

// PeriodText describes the original restriction period, such as
// "제한 기간: 3개월". It returns an empty string when there is no period.
func PeriodText(rec model.RuleRecord) string {
	if rec.PeriodValue <= 0 || rec.RestrictionType == model.RestrictionPermanent {
		return ""
	}
	return fmt.Sprintf("제한 기간: %d%s", rec.PeriodValue, unitLabels[rec.PeriodUnit])
}
