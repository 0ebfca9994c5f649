/*
Package broadcast records the progress of tasks and chat messages and pushes
it to the user's connected clients.

SetState does three things in order:

 1. assigns the next sequence number of the stream and persists the
    AgentState (and, for tasks, appends it to ExecutionStatus) in one
    storage transaction;
 2. queues the state for delivery;
 3. drains the oldest queued state to the user as an agentState event.

Labels come from a fixed vocabulary but are not a state machine: any label
may follow any other. Delivery failures, including a user with no open
stream, are counted and logged at debug level and never reach the caller.

Announce delivers a state without persisting it. It carries sequence 0 and
is used for errors about work that never started, such as a rejected plan.
*/
package broadcast
