// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/nokeedev/objtx/pkg/types"
)

//go:generate mockgen -destination=../mocks/mock_interfaces.go -package=mocks github.com/nokeedev/objtx/pkg/interfaces Compiler,OperationListener

// OperationListener receives per-operation outcomes of a compilation. A
// compiler processing many sources reports one operation per source, possibly
// from several goroutines at once.
type OperationListener interface {
	OperationSuccess(description string, output string)
	OperationFailed(description string, output string)
	// Done is called once after the last operation was reported
	Done()
}

// Compiler compiles a batch of sources, reporting each operation to the
// listener. A failed compilation returns a non-nil error.
type Compiler interface {
	Execute(ctx context.Context, req *types.CompileRequest, listener OperationListener) (types.WorkResult, error)
}

// CompilerFunc adapts a function to the Compiler interface
type CompilerFunc func(ctx context.Context, req *types.CompileRequest, listener OperationListener) (types.WorkResult, error)

// Execute implements Compiler
func (f CompilerFunc) Execute(ctx context.Context, req *types.CompileRequest, listener OperationListener) (types.WorkResult, error) {
	return f(ctx, req, listener)
}

// FileSystem provides the file operations staging relies on
type FileSystem interface {
	Exists(path string) bool
	Copy(src, dst string) error
	RemoveAll(path string) error
	CreateDirectory(path string) error
}

// BuildNotifier handles transaction notifications
type BuildNotifier interface {
	NotifyCommitted(task string, duration time.Duration)
	NotifyRolledBack(task string, err error)
	NotifyRollbackFailed(task string, err error)
}
