// Package transaction makes a batch compilation atomic with respect to its
// object directory.
//
// Before the compiler runs, the objects of removed sources are stashed and
// the objects of sources about to be recompiled are backed up. If the
// compiler succeeds the copies are discarded; if any operation fails the
// object directory is put back exactly as it was.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nokeedev/objtx/internal/staging"
	pcontext "github.com/nokeedev/objtx/pkg/context"
	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
)

// Report describes the course of one transaction
type Report struct {
	ID       string
	Outcome  types.TransactionOutcome
	States   []types.TransactionState
	Stashed  []types.ArtifactRef
	BackedUp []types.ArtifactRef
	// Result and Err are exactly what the compiler returned
	Result types.WorkResult
	Err    error
	// RollbackErr is set when the object directory could not be restored
	RollbackErr error
	// DiscardErr is set when the staging directory could not be removed
	DiscardErr error
	Duration   time.Duration
}

// State returns the last state the transaction reached
func (r *Report) State() types.TransactionState {
	if len(r.States) == 0 {
		return types.StateInit
	}
	return r.States[len(r.States)-1]
}

func (r *Report) transition(state types.TransactionState) {
	r.States = append(r.States, state)
}

// Coordinator wraps a compiler so that each invocation either commits all
// of its output or leaves the object directory untouched.
//
// A Coordinator is itself a Compiler. It does not serialize transactions;
// callers must not run two transactions on the same object directory.
type Coordinator struct {
	delegate interfaces.Compiler
	resolver resolver.Resolver
	fs       interfaces.FileSystem
	logger   logger.Logger
}

// NewCoordinator creates a coordinator around delegate. The resolver must be
// the naming convention the delegate writes objects with.
func NewCoordinator(delegate interfaces.Compiler, r resolver.Resolver, fs interfaces.FileSystem, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Coordinator{
		delegate: delegate,
		resolver: r,
		fs:       fs,
		logger:   log,
	}
}

// Execute implements interfaces.Compiler
func (c *Coordinator) Execute(ctx context.Context, req *types.CompileRequest, listener interfaces.OperationListener) (types.WorkResult, error) {
	report, err := c.ExecuteTransaction(ctx, req, listener)
	return report.Result, err
}

// ExecuteTransaction runs the delegate inside a transaction. The returned
// error is the delegate's own error, unless the transaction could not be
// staged (*StagingError, ErrInvalidRequest) or rolled back (*RollbackError).
// The report is never nil.
func (c *Coordinator) ExecuteTransaction(ctx context.Context, req *types.CompileRequest, listener interfaces.OperationListener) (*Report, error) {
	ctx = pcontext.Begin(ctx, pcontext.TransactionID(ctx))
	report := &Report{ID: pcontext.TransactionID(ctx)}
	report.transition(types.StateInit)
	defer func() {
		report.Duration = pcontext.Elapsed(ctx)
	}()

	if req == nil {
		report.Outcome = types.OutcomeAborted
		return report, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		report.Outcome = types.OutcomeAborted
		return report, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	area := staging.NewArea(req.TempDir, req.ObjectDir, c.resolver, c.fs, c.logger)
	if err := c.stage(ctx, req, area, report); err != nil {
		report.Outcome = types.OutcomeAborted
		return report, err
	}

	if listener == nil {
		listener = nopListener{}
	}

	report.transition(types.StateInvoking)
	invocation := c.invoke(pcontext.WithStage(ctx, string(types.StateInvoking)), req, listener)
	report.Result = invocation.Result
	report.Err = invocation.Err

	if !invocation.Failed {
		c.commit(pcontext.WithStage(ctx, string(types.StateCommitted)), area, report)
		listener.Done()
		return report, invocation.Err
	}

	rollbackErr := c.rollback(pcontext.WithStage(ctx, string(types.StateRolledBack)), area, report)
	listener.Done()
	if rollbackErr != nil {
		return report, &RollbackError{Err: rollbackErr, CompileErr: invocation.Err, StagingDir: area.Root()}
	}
	return report, invocation.Err
}

// stage moves the transaction from INIT through STASHED to BACKED_UP
func (c *Coordinator) stage(ctx context.Context, req *types.CompileRequest, area *staging.Area, report *Report) error {
	log := logger.WithContext(pcontext.WithStage(ctx, "staging"), c.logger)

	if err := area.Prepare(); err != nil {
		return &StagingError{Err: err}
	}

	fail := func(err error) error {
		if discardErr := area.DiscardAll(); discardErr != nil {
			log.Error("Failed to discard partial staging", logger.WithError(discardErr))
		}
		if errors.Is(err, staging.ErrAlreadyStaged) {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return &StagingError{Err: err}
	}

	for _, source := range req.RemovedSources {
		artifact, err := c.stageOne(area.Stash, source, req.ObjectDir)
		if err != nil {
			return fail(err)
		}
		report.Stashed = append(report.Stashed, types.ArtifactRef{Source: source, Path: artifact.LivePath})
	}
	report.transition(types.StateStashed)

	for _, source := range req.Sources {
		artifact, err := c.stageOne(area.Backup, source, req.ObjectDir)
		if err != nil {
			return fail(err)
		}
		report.BackedUp = append(report.BackedUp, types.ArtifactRef{Source: source, Path: artifact.LivePath})
	}
	report.transition(types.StateBackedUp)

	log.Debug("Staged object files",
		logger.WithField("stashed", len(report.Stashed)),
		logger.WithField("backedUp", len(report.BackedUp)))
	return nil
}

func (c *Coordinator) stageOne(stage func(source, livePath string) (*staging.Artifact, error), source, objectDir string) (*staging.Artifact, error) {
	livePath, err := c.resolver.Resolve(source, objectDir)
	if err != nil {
		return nil, err
	}
	return stage(source, livePath)
}

// invoke runs the delegate behind the outcome listener
func (c *Coordinator) invoke(ctx context.Context, req *types.CompileRequest, listener interfaces.OperationListener) (invocation Invocation) {
	proxy := newOutcomeListener(listener)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Compiler panic recovered",
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
			invocation.Err = fmt.Errorf("compiler panic: %v", r)
			invocation.Failed = true
		}
	}()

	result, err := c.delegate.Execute(ctx, req, proxy)
	return Invocation{
		Result: result,
		Err:    err,
		Failed: proxy.Failed() || err != nil || ctx.Err() != nil,
	}
}

func (c *Coordinator) commit(ctx context.Context, area *staging.Area, report *Report) {
	log := logger.WithContext(ctx, c.logger)

	if err := area.DiscardAll(); err != nil {
		log.Error("Failed to discard staged object files", logger.WithError(err))
		report.DiscardErr = err
	}
	report.transition(types.StateCommitted)
	report.Outcome = types.OutcomeCommitted
	log.Debug("Compile transaction committed")
}

func (c *Coordinator) rollback(ctx context.Context, area *staging.Area, report *Report) error {
	log := logger.WithContext(ctx, c.logger)
	log.Warn("Compilation failed, restoring object files",
		logger.WithField("stashed", len(report.Stashed)),
		logger.WithField("backedUp", len(report.BackedUp)))

	err := area.RestoreAll()
	report.transition(types.StateRolledBack)
	report.Outcome = types.OutcomeRolledBack

	if err != nil {
		report.RollbackErr = err
		log.Error("Rollback failed, staged copies kept for recovery",
			logger.WithField("staging", area.Root()),
			logger.WithError(err))
		return err
	}

	if discardErr := area.DiscardAll(); discardErr != nil {
		log.Error("Failed to discard staged object files", logger.WithError(discardErr))
		report.DiscardErr = discardErr
	}
	log.Info("Object files restored")
	return nil
}
