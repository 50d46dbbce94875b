package store

import "errors"

// ErrParentDeleted marks a write that failed because the row's owning
// source or conversation no longer exists. The crawl engine treats this as
// fatal-for-job.
var ErrParentDeleted = errors.New("store: parent row deleted")

// ErrNotFound marks a read that found no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrNoJobAvailable is returned by ClaimNextJob when no queued job exists,
// or when a claim attempt lost the race to another worker. Both are
// non-error conditions for the scheduler.
var ErrNoJobAvailable = errors.New("store: no job available")
