package transaction

import (
	"sync/atomic"

	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/types"
)

// Invocation is what the coordinator learns from running the compiler
type Invocation struct {
	Result types.WorkResult
	Err    error
	// Failed is set when any operation failed, the compiler returned an
	// error, or the context ended before the compiler returned
	Failed bool
}

// outcomeListener forwards operation notifications to the caller's listener
// and remembers whether any operation failed. Done is not forwarded; the
// coordinator calls it once the transaction has committed or rolled back.
type outcomeListener struct {
	delegate interfaces.OperationListener
	failed   atomic.Bool
}

func newOutcomeListener(delegate interfaces.OperationListener) *outcomeListener {
	if delegate == nil {
		delegate = nopListener{}
	}
	return &outcomeListener{delegate: delegate}
}

func (l *outcomeListener) OperationSuccess(description string, output string) {
	l.delegate.OperationSuccess(description, output)
}

func (l *outcomeListener) OperationFailed(description string, output string) {
	l.failed.Store(true)
	l.delegate.OperationFailed(description, output)
}

func (l *outcomeListener) Done() {}

// Failed reports whether a failure was observed. Read it after the compiler returned.
func (l *outcomeListener) Failed() bool {
	return l.failed.Load()
}

type nopListener struct{}

func (nopListener) OperationSuccess(string, string) {}
func (nopListener) OperationFailed(string, string)  {}
func (nopListener) Done()                           {}
