package compiler

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/nokeedev/objtx/pkg/logger"
)

// SafeGroup is an errgroup.Group that turns panics of its goroutines into
// errors instead of crashing the process
type SafeGroup struct {
	group  *errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a SafeGroup bound to ctx
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SafeGroup{
		group:  g,
		logger: log,
	}, ctx
}

// Go runs fn in a new goroutine. A panic is logged with its stack and
// returned as the goroutine's error.
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Goroutine panic recovered",
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()
		return fn()
	})
}

// SetLimit caps the number of goroutines running at once; n <= 0 means no limit
func (sg *SafeGroup) SetLimit(n int) {
	if n <= 0 {
		n = -1
	}
	sg.group.SetLimit(n)
}

// Wait blocks until all goroutines have returned and reports the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}
