package docstore

import "errors"

var (
	// ErrUnsupportedConfig is returned for an unknown kind or an invalid
	// kind/similarity/dimension combination.
	ErrUnsupportedConfig = errors.New("unsupported configuration")

	// ErrDimensionMismatch is returned when an embedding's length differs
	// from the handle's dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUncommittedTransaction is returned by RollbackGuard when a call
	// found a transaction left open by an earlier one.
	ErrUncommittedTransaction = errors.New("uncommitted transaction rolled back")

	// ErrIndexNotReady is returned by CloudStore when the hosted index is
	// not fully indexed.
	ErrIndexNotReady = errors.New("index not ready")

	// ErrInvalidQuery is returned for a non-positive topK.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrReadOnly is returned by write operations on read-only stores.
	ErrReadOnly = errors.New("store is read-only")
)
