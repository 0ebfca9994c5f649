/*
Package types defines the core data model shared by herald's components.

	┌─────────── TASK ───────────┐        ┌───────── REMINDER ─────────┐
	│ ID, UserID, ChatID         │        │ ID (stable)                │
	│ Plan (JSON, immutable)     │        │ JobID (queue handle)       │
	│ ExecutionStatus ──────┐    │        │ Recurrence / Time          │
	└───────────────────────┼────┘        │ Status                     │
	                        ▼             └────────────────────────────┘
	               ┌──── AGENT STATE ────┐
	               │ Sequence (1-based)  │
	               │ State label         │
	               └─────────────────────┘

A Task exclusively owns its AgentState sequence and its ephemeral action
results (cache keys under task:{taskId}:*). A Reminder is owned by its user
and is linked to the durable queue only by JobID; the queue never stores a
pointer back to the reminder.

Reminder status moves one way out of scheduled: to completed, failed, or
(by user request) cancelled. Terminal states never change again.

Types carry no persistence logic. Storage, queue, and cache packages
serialize them as JSON.
*/
package types
