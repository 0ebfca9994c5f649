/*
Package storage provides BoltDB-backed persistence for herald's assistant state.

The storage package implements the Store interface on a single bbolt file,
<dataDir>/herald.db. Every entity is serialized as JSON into its own bucket;
ordered logs use nested buckets keyed by a big-endian sequence number so a
cursor walks them in insertion order.

# Bucket Layout

	┌──────────────────── herald.db ───────────────────────────┐
	│                                                            │
	│  tasks           task ID       → Task                      │
	│  reminders       reminder ID   → Reminder                  │
	│  reminder_jobs   job ID        → reminder ID               │
	│  agent_states/   stream key    → { seq → AgentState }      │
	│  chat_messages/  chat ID       → { seq → ChatMessage }     │
	│  profiles        user ID       → UserProfile               │
	│  devices/        user ID       → { token → Device }        │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Sequencing

AppendAgentState draws the next number from the stream bucket's own
NextSequence counter, writes the state and appends its ID to the owning
task's ExecutionStatus inside one db.Update. bbolt serializes writers, so
sequence numbers within a stream are gapless and never duplicated. A stream
is the task ID for task-bound states and "msg:<messageID>" otherwise.

# Job Handles

A reminder keeps a stable ID; its JobID changes whenever the queue re-keys a
repeating job. The reminder_jobs bucket maps the current JobID back to the
reminder and is rewritten in the same transaction as the reminder itself,
so GetReminderByJobID never resolves a stale handle.

# Errors

Lookup misses wrap ErrNotFound and name the entity:

	_, err := store.GetTask("t1")
	errors.Is(err, storage.ErrNotFound) // true, err = "task not found: t1"
*/
package storage
