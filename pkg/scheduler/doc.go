/*
Package scheduler books reminders on the durable job queue and runs them
when they fall due.

A reminder has two identities. Reminder.ID is stable and is what users and
clients hold. Reminder.JobID is the queue handle of the job that will fire
next; repeat rules create a new job for every run, so the handle moves:

	ScheduleReminder ──▶ compile ──▶ CreateJob("reminder") ──▶ CreateReminder
	                                      │                         │
	                                      │  persist fails          │
	                                      ◀──── remove job ◀────────┘

	queue settles job J1
	   │
	   ├─ repeat, next instance J2 ──▶ RepointReminderJob(J1, J2)
	   ├─ repeat rule retired     ──▶ status completed
	   └─ one-shot                ──▶ status completed or failed

ProcessReminder is the queue handler for "reminder" jobs. It skips
reminders that are no longer scheduled, turns the reminder's plan into a
task and runs it. A reminder without a plan gets a single sendNotification
step carrying its description, and a plan without a notification step gets
one appended after its last included step.

Every status change is pushed to the user's clients as a reminderUpdated
event.
*/
package scheduler
