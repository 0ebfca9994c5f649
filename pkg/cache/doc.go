// Package cache provides the key-value backends for ephemeral task results
// and per-conversation in-flight flags. Memory keeps everything in process
// with a periodic expiry sweep; Redis stores keys on a Redis server.
package cache
