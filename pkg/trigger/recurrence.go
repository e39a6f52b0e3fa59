package trigger

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Recurrence is an opaque recurrence rule. The scheduler only ever asks it
// for the next occurrence after an instant; it never inspects the rule
// itself. The zero value means "no recurrence" (one-shot).
type Recurrence struct {
	expr string
}

// ParseRecurrence validates a cron expression and wraps it. An empty string
// yields the zero (one-shot) rule.
func ParseRecurrence(expr string) (Recurrence, error) {
	if expr == "" {
		return Recurrence{}, nil
	}
	if !gronx.New().IsValid(expr) {
		return Recurrence{}, fmt.Errorf("trigger: invalid recurrence rule %q", expr)
	}
	return Recurrence{expr: expr}, nil
}

func (r Recurrence) IsZero() bool   { return r.expr == "" }
func (r Recurrence) String() string { return r.expr }

// NextAfter returns the first occurrence strictly after the given instant.
func (r Recurrence) NextAfter(after time.Time) (time.Time, error) {
	if r.IsZero() {
		return time.Time{}, fmt.Errorf("trigger: one-shot rule has no next occurrence")
	}
	next, err := gronx.NextTickAfter(r.expr, after, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("trigger: next occurrence: %w", err)
	}
	return next, nil
}

// advanceLimit bounds the catch-up loop for pathological rules.
const advanceLimit = 10000

// NextFuture returns the first occurrence after the given instant that is
// also strictly in the future relative to now. Occurrences that already
// passed (a scheduler outage, for example) are skipped silently so a
// recurring trigger never fires a storm of missed runs.
func (r Recurrence) NextFuture(after, now time.Time) (time.Time, error) {
	next, err := r.NextAfter(after)
	if err != nil {
		return time.Time{}, err
	}
	for i := 0; !next.After(now); i++ {
		if i >= advanceLimit {
			return time.Time{}, fmt.Errorf("trigger: rule %q cannot reach a future occurrence", r.expr)
		}
		next, err = r.NextAfter(next)
		if err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}
