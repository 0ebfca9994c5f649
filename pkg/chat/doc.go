// Package chat turns incoming user messages into assistant replies.
//
// HandleMessage takes the chat's processing flag from the guard, stores the
// user's message, reports progress on the message's state stream and asks
// the language model for a reply. A pending-request timer sends a
// replyTimeout event if the model has not answered inside the reply window.
// The reply is stored and delivered only if the generation is still the
// chat's current one when the model returns.
package chat
