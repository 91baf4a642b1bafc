// Package apperrors defines the sentinel errors shared across the identity
// engine. Callers use errors.Is against these rather than matching strings.
package apperrors

import "errors"

var (
	// ErrNotFound means an operation referenced an id that does not exist
	// (after merge-chain resolution). No state is mutated.
	ErrNotFound = errors.New("not found")

	// ErrConflict means an operation would violate a uniqueness constraint,
	// or a merge target equals its source after resolution.
	ErrConflict = errors.New("conflict")

	// ErrBlocked means an identifier on the blocklist was attempted to be
	// attached to a Person. Callers should treat this as a skip, not a failure.
	ErrBlocked = errors.New("identifier is blocklisted")

	// ErrCorruptionGuard means a safe-write detected a record-count drop
	// beyond the allowed threshold and aborted before touching the snapshot.
	ErrCorruptionGuard = errors.New("safe-write aborted: record count drop exceeds threshold")

	// ErrAmbiguous means the resolver's disambiguation path found no single
	// best candidate. Not treated as a failure by callers; they decide
	// whether to create, enqueue for review, or drop the observation.
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrNoConn means a repository call ran against a context.Context with
	// no pgx connection/transaction attached via database.WithConn.
	ErrNoConn = errors.New("no database connection in context")

	// ErrInvalidTransition means a ReviewQueueItem status change does not
	// follow the pending -> {merged,skipped,hidden,kept,split} lifecycle.
	ErrInvalidTransition = errors.New("invalid review queue status transition")
)
