// Package syncer implements the two halves of the reconciliation protocol:
// Pull refreshes the local directory mirror from the authoritative store,
// Push uploads locally created attendance rows back to it.
//
// # Critical Patterns
//
// Coalescing, not queueing: each flow has its own in-flight guard. A
// trigger that arrives while the same flow is running collapses into a
// single pending re-run; triggers are cheap to fire from anywhere.
//
// Offline is a result, not an error: an unreachable remote degrades every
// flow to a logged no-op. The existing cache is never touched by a failed
// fetch, and pending rows are never lost by a failed upload.
//
// Bounded retry: a row the remote keeps rejecting moves to "stuck" after
// MaxPushAttempts and stops retrying until a manual resync requeues it.
// Transport failures do not consume retry budget - only explicit remote
// rejections do.
package syncer
