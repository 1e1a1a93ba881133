package domain

import "errors"

var (
	// ErrDuplicateEntry indicates the ledger already holds an entry for the
	// activity. Treated as "already done", possibly by a concurrent run.
	ErrDuplicateEntry = errors.New("ledger entry already exists")
	// ErrStoreUnavailable indicates the ledger's backing store cannot be
	// reached. Fatal to a sync run: dedup cannot be guaranteed without it.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	// ErrMalformedSeries indicates a sample series violates the encoder's
	// input invariants (mismatched channel lengths, non-monotonic offsets).
	ErrMalformedSeries = errors.New("malformed sample series")
)
