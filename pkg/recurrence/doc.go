/*
Package recurrence compiles reminder timing descriptions into queue schedules.

A reminder carries wall-clock values (HH:mm, yyyy-MM-dd, and a literal-Z
one-time date) that are read in a single source time zone, Asia/Kolkata
unless configured otherwise. The compiler converts them to UTC and emits one
of two primitives:

	once    ─► Schedule{Kind: once, Delay, RunAt}
	daily   ─► RepeatRule{"M H * * *"}
	weekly  ─► RepeatRule{"M H * * d1,d2"}      (weekday shift on midnight cross)
	limited ─► RepeatRule{"M H * * *", StartDate, EndDate}

Any malformed input is rejected with an error wrapping ErrInvalidSchedule.
Repeat rules are five-field cron expressions evaluated in UTC; NextRun and
NextRuns compute fire instants within a rule's bounds.
*/
package recurrence
