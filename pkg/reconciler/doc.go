/*
Package reconciler repairs reminders whose queue settlement was missed.

The queue updates reminders through a settlement listener that runs after
the settling transaction commits. If the process stops between the two, a
reminder can be left scheduled while its job is already finished, or
pointing at a repeat instance the rule has moved past. The reconciler
finds those reminders and replays the settlement through the same listener
(Scheduler.OnSettle), so repairs follow exactly the rules of a live
settlement.

# Decision table

For every scheduled reminder, looking at the job it points to and the
repeat rule carrying its reminderId:

	job pending (waiting, delayed, active)      nothing
	job finished less than 30s ago              nothing (listener's turn)
	one-shot job completed or failed            final, same state
	rule exists and points at another job       re-point, not final
	rule exists and points at this job          nothing
	repeating job finished, rule gone           final, completed
	job and rule both gone                      final, failed ("job lost")

A one-shot job deleted by removeOnComplete whose listener never ran falls
in the last row: the reminder is marked failed because nothing proves it
ran.

# Loop

Start runs a cycle immediately and then every DefaultInterval (one minute)
until Stop or context cancellation. Cycles are serialized. Each cycle is
counted in herald_reconciliation_cycles_total and timed in
herald_reconciliation_duration_seconds; every replay increments
herald_reminders_repaired_total.
*/
package reconciler
