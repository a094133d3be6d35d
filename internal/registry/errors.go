package registry

import (
	"errors"
	"fmt"
)

// ErrScannerPanic wraps a recovered panic from a scanner.
var ErrScannerPanic = errors.New("registry: scanner panicked")

// ScanIsolationError records a scanner failure that the composite scan
// contained.
type ScanIsolationError struct {
	Scanner string
	Err     error
}

func (e *ScanIsolationError) Error() string {
	return fmt.Sprintf("scanner %s: %v", e.Scanner, e.Err)
}

// Unwrap returns the scanner's error.
func (e *ScanIsolationError) Unwrap() error {
	return e.Err
}
