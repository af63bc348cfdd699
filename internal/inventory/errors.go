package inventory

import "errors"

var (
	// ErrRecordNotFound indicates no record matched the requested id or
	// (owner, name) pair.
	ErrRecordNotFound = errors.New("inventory: record not found")
	// ErrOrdinalNotFound indicates the displayed number no longer maps to a
	// record; the listing must be refreshed.
	ErrOrdinalNotFound = errors.New("inventory: ordinal not found")
)
