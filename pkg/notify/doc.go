// Package notify delivers push notifications through the job queue and
// tracks requests that are waiting on a reply.
//
// Dispatcher.Enqueue stores a "notification" job; Dispatcher.Process is the
// queue handler that resolves the user's devices and hands the payload to a
// Sender. A delivery that fails on every device is reported as a failed
// outcome so the queue retries it with backoff.
//
// Pending is a keyed table of outstanding requests, each with a timer. It
// is created by its owner and passed to whoever resolves the requests.
package notify
