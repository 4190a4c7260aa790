package store

// Media file lifecycle transition rules. Every status change funnels through
// [CanTransition] so illegal jumps (COMPLETED back to PROCESSING, resurrecting
// a CANCELLED file) are rejected in one place regardless of which subsystem
// requests the change.

// allowedTransitions maps each status to the set of statuses it may move to.
var allowedTransitions = map[FileStatus][]FileStatus{
	StatusPending: {
		StatusProcessing,
		StatusCancelled, // cancel before any task starts; nothing to wind down
		StatusError,
	},
	StatusProcessing: {
		StatusCompleted,
		StatusError,
		StatusCancelling,
		StatusPending, // recovery reset
	},
	StatusCancelling: {
		StatusCancelled,
		StatusError, // a task failed terminally while winding down
	},
	StatusError: {
		StatusPending, // manual or automatic retry
		StatusOrphaned,
		StatusCancelled, // user discards a failed file's pipeline state
	},
	StatusCompleted: {
		StatusPending, // reprocess
	},
	StatusCancelled: {},
	StatusOrphaned: {
		StatusPending, // manual retry only; recovery never resurrects orphans
	},
}

// CanTransition reports whether a media file may move from one status to
// another. Self-transitions are rejected.
func CanTransition(from, to FileStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
