// Package results stores the short-lived outputs of plan actions in the
// cache, one list per task and action type. Appends are a single list push
// with a TTL refresh, so concurrent writers never overwrite each other.
package results
