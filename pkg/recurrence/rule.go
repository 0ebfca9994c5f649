package recurrence

import (
	"time"

	"github.com/cuemby/herald/pkg/types"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that a repeat rule's pattern parses and its bounds are ordered
func Validate(rule *types.RepeatRule) error {
	if rule == nil {
		return invalid("repeat rule is required")
	}
	if _, err := parser.Parse(rule.Pattern); err != nil {
		return invalid("pattern %q: %v", rule.Pattern, err)
	}
	if rule.StartDate != nil && rule.EndDate != nil && !rule.EndDate.After(*rule.StartDate) {
		return invalid("end %s must be after start %s", rule.EndDate.Format(time.RFC3339), rule.StartDate.Format(time.RFC3339))
	}
	return nil
}

// NextRun returns the first fire instant of rule strictly after `after`,
// honouring the rule's start and end bounds (both inclusive).
// ok is false when the rule has no further runs.
func NextRun(rule *types.RepeatRule, after time.Time) (next time.Time, ok bool) {
	sched, err := parser.Parse(rule.Pattern)
	if err != nil {
		return time.Time{}, false
	}

	from := after.UTC()
	if rule.StartDate != nil && from.Before(*rule.StartDate) {
		from = rule.StartDate.UTC().Add(-time.Second)
	}

	next = sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// NextRuns previews up to n upcoming fire instants
func NextRuns(rule *types.RepeatRule, after time.Time, n int) []time.Time {
	var runs []time.Time
	for i := 0; i < n; i++ {
		next, ok := NextRun(rule, after)
		if !ok {
			break
		}
		runs = append(runs, next)
		after = next
	}
	return runs
}
