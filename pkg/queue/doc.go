/*
Package queue is a durable job queue backed by a bbolt file, with an
in-process worker that runs registered handlers.

Jobs move through a small state machine:

	            CreateJob
	                │
	      ┌─────────┴─────────┐
	      ▼                   ▼
	  waiting              delayed ◀──────────┐
	      │    (RunAt due)    │               │ failure, attempts left
	      └─────────┬─────────┘               │ (backoff, same id)
	                ▼                         │
	             active ──────────────────────┘
	                │
	      ┌─────────┴─────────┐
	      ▼                   ▼
	  completed            failed
	      └──── settle ───────┘

A settled job is reported once to the SettleListener. Jobs created with a
repeat rule are instances of that rule: when an instance settles the queue
stores the next instance under a new id at the rule's next fire time, or
retires the rule when the next fire time falls past its end date. The
Settlement carries both ids so owners of the old handle can re-point to the
new one.

# Leases

Claiming a job sets a lease (LockedUntil). A job still active with an expired
lease and no handler running in this process is treated as a failed attempt
with the message "lease expired". This is how jobs interrupted by a restart
are picked up again.

# Results

Queue operations never panic and never return Go errors. They report a
Result with Success false and a human-readable Message. Lookups of unknown
ids set NotFound.

# Usage

	q, err := queue.Open(queue.Config{DataDir: "/var/lib/herald"})
	if err != nil {
		return err
	}
	defer q.Close()

	q.Register("reminder", func(ctx context.Context, job *queue.Job) queue.Outcome {
		return queue.Outcome{Success: true}
	})
	q.OnSettle(func(ctx context.Context, s queue.Settlement) {
		// re-point owners of s.OldJobID to s.NewJobID
	})
	q.Start(ctx)

	res := q.CreateJob(ctx, "reminder", payload, queue.JobOptions{
		Repeat: &types.RepeatRule{Pattern: "0 9 * * *"},
	})
*/
package queue
