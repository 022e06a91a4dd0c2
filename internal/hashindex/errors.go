package hashindex

import "errors"

// Error classification codes for the hash index. Duplicate and not-found
// conditions are caller-visible booleans per the error handling design, not
// errors; these sentinels cover the conditions that genuinely propagate as
// failures.
var (
	// ErrAllocationFailure is returned by construction when the buffer pool
	// cannot allocate a header (or block) page.
	ErrAllocationFailure = errors.New("hashindex: allocation failure")

	// ErrCapacityExceeded is returned when a header page's block-id list is
	// already full. Hitting this in practice indicates an invariant bug:
	// GetSize, appendBlocks, and MaxBlocksPerHeader are expected to stay in
	// lockstep.
	ErrCapacityExceeded = errors.New("hashindex: header page block list full")

	// ErrNotReadable is returned by KeyAt/ValueAt on a slot whose readable
	// bit is clear. The index's own access paths never trigger this; it is
	// a diagnostic for direct misuse of a BlockView.
	ErrNotReadable = errors.New("hashindex: slot not readable")
)
