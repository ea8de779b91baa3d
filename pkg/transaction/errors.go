package transaction

import (
	"errors"
	"fmt"
)

// Sentinel errors for compile transactions, checked with errors.Is
var (
	// ErrInvalidRequest indicates a request that cannot be run transactionally
	ErrInvalidRequest = errors.New("invalid compile request")

	// ErrStagingIO indicates the object files could not be staged; the
	// compiler was not invoked
	ErrStagingIO = errors.New("failed to stage object files")

	// ErrRollbackIO indicates the object directory could not be restored
	// after a failed compilation
	ErrRollbackIO = errors.New("failed to roll back object files")
)

// StagingError is returned when the transaction aborts before invoking the
// compiler. The object directory is untouched.
type StagingError struct {
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("%v: %v", ErrStagingIO, e.Err)
}

func (e *StagingError) Unwrap() []error {
	return []error{ErrStagingIO, e.Err}
}

// RollbackError is returned when restoring the object directory failed. The
// staging directory is left in place so the objects can be recovered by hand.
type RollbackError struct {
	// Err joins every failed restore
	Err error
	// CompileErr is the compiler's own error, possibly nil
	CompileErr error
	// StagingDir holds the copies that could not be restored
	StagingDir string
}

func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("%v (staged copies kept in %s): %v", ErrRollbackIO, e.StagingDir, e.Err)
	if e.CompileErr != nil {
		msg += fmt.Sprintf("; compilation error: %v", e.CompileErr)
	}
	return msg
}

func (e *RollbackError) Unwrap() []error {
	errs := []error{ErrRollbackIO, e.Err}
	if e.CompileErr != nil {
		errs = append(errs, e.CompileErr)
	}
	return errs
}
