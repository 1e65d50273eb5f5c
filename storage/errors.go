package storage

import "errors"

// Page-level sentinel errors. OutOfSpace is recoverable (the caller
// allocates a new page); NotFound/Deleted are slot-lookup outcomes, not
// corruption.
var (
	ErrOutOfSpace = errors.New("page: out of space")
	ErrNotFound   = errors.New("page: slot not found")
	ErrDeleted    = errors.New("page: slot deleted")

	ErrTableExists   = errors.New("storage: table already exists")
	ErrTableNotFound = errors.New("storage: table not found")
)
