package types

// SyncStatus tracks one store projection of a note. The relational row is
// the source of truth; projections only ever lag it.
// Legal transitions: pending -> syncing -> {synced | error}; error -> retry
// -> syncing. Anything else is a bug.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
	SyncRetry   SyncStatus = "retry"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSyncing, SyncSynced, SyncError, SyncRetry:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal step of the
// per-store status machine.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncSyncing
	case SyncSyncing:
		return next == SyncSynced || next == SyncError
	case SyncError:
		return next == SyncRetry
	case SyncRetry:
		return next == SyncSyncing
	case SyncSynced:
		return false
	default:
		return false
	}
}

// ProcessingStatus is the caller-visible lifecycle of the whole note
// pipeline, polled via the status endpoint.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingRunning   ProcessingStatus = "processing"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
)

func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingRunning, ProcessingCompleted, ProcessingFailed:
		return true
	default:
		return false
	}
}
