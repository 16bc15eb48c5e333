// Package syncengine replays local writes against the remote store.
//
// Each user session owns one Engine, and each Engine runs a single worker
// goroutine that performs every pending-queue mutation and every remote call.
// Callers hand writes to the engine with Submit, which never blocks; the
// worker then tries the remote immediately when online, or queues the write.
//
// Write lifecycle:
//
//	optimistic-local   the repository has already written the local cache
//	immediate-attempt  online and nothing pending for the same record
//	queued             offline, same record already pending, or transient failure
//	draining           connectivity went offline -> online (or a backoff retry fired)
//
// Permanent failures are moved to the dead-letter list and never retried
// automatically; Requeue puts them back. Transient failures left over after a
// drain while still online schedule another drain with exponential backoff.
//
// Remote failures never reach the caller of Submit. They are logged, counted
// in Status, and published as Events.
package syncengine
