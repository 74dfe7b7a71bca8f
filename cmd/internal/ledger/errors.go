package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for (student, session).
	ErrNotFound = errors.New("attendance record not found")

	// ErrDuplicateScan is returned when a scan finds an existing record.
	ErrDuplicateScan = errors.New("duplicate scan")

	// ErrUnknownSession is returned when the referenced session does not exist.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidInput is returned for malformed writes.
	ErrInvalidInput = errors.New("invalid attendance input")
)

// DuplicateScanError carries the record that already exists for the pair.
type DuplicateScanError struct {
	Existing Record
}

func (e DuplicateScanError) Error() string {
	return fmt.Sprintf("%s: student %s already marked %s in session %s",
		ErrDuplicateScan.Error(), e.Existing.StudentID, e.Existing.Status, e.Existing.SessionID)
}

func (e DuplicateScanError) Unwrap() error { return ErrDuplicateScan }
