/*
Package events provides the in-memory delivery channel between herald and
connected clients.

Each client opens a Subscriber for its user; SendToUser queues an event and
the broker's run loop copies it into every channel that user holds.

	SendToUser(u, e) ─► eventCh (buffer: 100) ─► run loop
	                                               │
	                          ┌────────────────────┼────────────────────┐
	                          ▼                    ▼                    ▼
	                   sub[u] #1 (50)       sub[u] #2 (50)        (other users
	                                                               not touched)

A single run loop keeps per-user delivery in send order. Delivery is best
effort: SendToUser fails fast with ErrNoSubscribers, ErrBufferFull or
ErrStopped instead of blocking, and a subscriber whose own buffer is full
misses the event. Callers log these errors and move on.

Event types:

	agentState       progress of a task or message, see package broadcast
	chatReply        the assistant's reply to a chat message
	replyTimeout     no reply was produced inside the reply window
	reminderUpdated  a reminder changed status or job handle
*/
package events
