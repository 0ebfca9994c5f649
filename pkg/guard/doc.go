// Package guard keeps at most one reply generation current per chat.
//
// The flag bot_processing:{userId}:{chatId} in the cache holds the token of
// the current generation. Begin replaces it, cancelling the context of the
// generation it supersedes; Current compares tokens before a reply is
// delivered; Finish clears the flag only if it still carries the caller's
// token. Cancellation is cooperative: work already in flight may complete,
// and its result is dropped when Current reports false.
package guard
