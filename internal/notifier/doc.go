// Package notifier announces delivery starts and ends.
//
// Announcements are rendered from the definition's message template, queued,
// and handed to a Sink by a small worker pool under a shared rate limit.
// Failed sends retry with jittered backoff. Identical announcements inside
// the dedup window are suppressed, which keeps a restored event from being
// announced twice.
//
// # History
//
// The last few hundred sent notifications are kept in memory and listed by
// the operator API.
package notifier
