// Package engine drives compile transactions for a configured project. It
// selects the sources of each run, takes the object directory lock, runs
// the compiler inside a transaction and reports the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nokeedev/objtx/internal/watch"
	"github.com/nokeedev/objtx/pkg/config"
	pcontext "github.com/nokeedev/objtx/pkg/context"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/oplog"
	"github.com/nokeedev/objtx/pkg/transaction"
	"github.com/nokeedev/objtx/pkg/types"
	"github.com/nokeedev/objtx/pkg/utils"
)

// heartbeatInterval keeps the object directory lock fresh during long compilations
const heartbeatInterval = 5 * time.Second

// CompileOptions selects what one run compiles
type CompileOptions struct {
	// Sources to compile; empty means every configured source
	Sources []string
	// Removed sources in addition to those dropped since the last commit
	Removed []string
	// Rebuild starts from an empty object directory
	Rebuild bool
}

// Engine compiles one project. Runs are serialized.
type Engine struct {
	config  *types.ProjectConfig
	logger  logger.Logger
	deps    Dependencies
	sources *utils.SourceSet
	name    string

	objectDir string
	tempDir   string

	mu      sync.Mutex
	running bool
}

// New creates an engine for cfg. The configuration must be validated and
// its project root absolute.
func New(cfg *types.ProjectConfig, log logger.Logger, deps Dependencies) (*Engine, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	sources, err := utils.NewSourceSet(cfg.ProjectRoot, cfg.Sources, cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid source patterns: %w", err)
	}

	return &Engine{
		config:    cfg,
		logger:    log,
		deps:      deps,
		sources:   sources,
		name:      filepath.Base(cfg.ProjectRoot),
		objectDir: config.ObjectDir(cfg),
		tempDir:   config.TempDir(cfg),
	}, nil
}

// ObjectDir returns the absolute object directory
func (e *Engine) ObjectDir() string {
	return e.objectDir
}

// SourceSet returns the configured source selection
func (e *Engine) SourceSet() *utils.SourceSet {
	return e.sources
}

// Close releases background resources
func (e *Engine) Close() {
	e.deps.State.StopHeartbeat()
}

// Compile runs one compile transaction. The report is nil only when the run
// did not start, e.g. because another process holds the object directory.
func (e *Engine) Compile(ctx context.Context, opts CompileOptions) (*transaction.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.sources.Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to collect sources: %w", err)
	}

	previous, err := e.deps.State.Read(e.objectDir)
	if err != nil {
		e.logger.Warn("Ignoring unreadable transaction record", logger.WithError(err))
		previous = nil
	}
	incremental := !opts.Rebuild && previous != nil && previous.Outcome != types.OutcomeFailed

	sources := current
	if incremental && len(opts.Sources) > 0 {
		// Sources of transactions that did not commit are compiled again
		sources = withPending(e.absolute(opts.Sources), previous.PendingSources, current)
	}

	dropped, err := e.deps.State.RemovedSources(e.objectDir, current)
	if err != nil {
		return nil, err
	}
	removed := mergeRemoved(sources, dropped, e.absolute(opts.Removed))

	txID := pcontext.NewTransactionID()
	ctx = pcontext.WithTransactionID(ctx, txID)
	log := logger.WithContext(ctx, e.logger.WithTask(e.name))

	if _, err := e.deps.State.Begin(e.objectDir, txID); err != nil {
		return nil, err
	}
	e.deps.State.StartHeartbeat(ctx, heartbeatInterval)

	req := e.request(sources, removed, incremental)
	listener := oplog.New(e.tempDir, log)

	log.Info(fmt.Sprintf("Compiling %d source(s)", len(sources)),
		logger.WithField("removed", len(removed)),
		logger.WithField("incremental", incremental))

	report, txErr := e.execute(ctx, req, listener)
	listener.Done()

	// The committed source set only changes when the transaction commits
	if err := e.deps.State.Finish(e.objectDir, report.Outcome, current, sources, report.Duration, txErr); err != nil {
		log.Warn("Failed to record transaction outcome", logger.WithError(err))
	}

	e.notify(report, txErr)
	return report, txErr
}

// execute runs the compiler, inside a transaction unless disabled
func (e *Engine) execute(ctx context.Context, req *types.CompileRequest, listener *oplog.OperationLogger) (*transaction.Report, error) {
	if e.config.IsIncrementalAfterFailure() {
		coordinator := transaction.NewCoordinator(e.deps.Compiler, e.deps.Resolver, e.deps.FileSystem, e.logger.WithTask(e.name))
		return coordinator.ExecuteTransaction(ctx, req, listener)
	}

	ctx = pcontext.Begin(ctx, pcontext.TransactionID(ctx))
	report := &transaction.Report{
		ID:     pcontext.TransactionID(ctx),
		States: []types.TransactionState{types.StateInit, types.StateInvoking},
	}
	result, err := e.deps.Compiler.Execute(ctx, req, listener)
	report.Result = result
	report.Err = err
	report.Outcome = types.OutcomeCommitted
	if err != nil || ctx.Err() != nil {
		report.Outcome = types.OutcomeFailed
	}
	report.Duration = pcontext.Elapsed(ctx)
	return report, err
}

func (e *Engine) request(sources, removed []string, incremental bool) *types.CompileRequest {
	compiler := e.config.Compiler
	req := &types.CompileRequest{
		Sources:        sources,
		RemovedSources: removed,
		ObjectDir:      e.objectDir,
		TempDir:        e.tempDir,
		Args:           append([]string(nil), compiler.Args...),
		Incremental:    incremental,
	}
	for _, include := range compiler.Includes {
		if !filepath.IsAbs(include) {
			include = filepath.Join(e.config.ProjectRoot, include)
		}
		req.Includes = append(req.Includes, include)
	}
	if len(compiler.Macros) > 0 {
		req.Macros = make(map[string]string, len(compiler.Macros))
		for name, value := range compiler.Macros {
			req.Macros[name] = value
		}
	}
	return req
}

func (e *Engine) notify(report *transaction.Report, err error) {
	if e.deps.Notifier == nil {
		return
	}

	var rollbackErr *transaction.RollbackError
	switch {
	case errors.As(err, &rollbackErr):
		e.deps.Notifier.NotifyRollbackFailed(e.name, err)
	case report.Outcome == types.OutcomeCommitted:
		e.deps.Notifier.NotifyCommitted(e.name, report.Duration)
	case report.Outcome == types.OutcomeRolledBack:
		e.deps.Notifier.NotifyRolledBack(e.name, err)
	}
}

// Watch compiles every source, then compiles each settled batch of changes
// until ctx is done. Failed runs are logged; watching goes on.
func (e *Engine) Watch(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine is already watching")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	settling := watch.DefaultSettlingDelay
	if e.config.Watch != nil && e.config.Watch.SettlingDelay > 0 {
		settling = time.Duration(e.config.Watch.SettlingDelay) * time.Millisecond
	}

	watcher, err := watch.New(e.sources, settling, e.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Start(ctx); err != nil {
		return err
	}

	e.runLogged(ctx, CompileOptions{})

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-watcher.Batches():
			if !ok {
				return nil
			}
			e.logger.Debug("Source changes settled",
				logger.WithField("changed", len(batch.Sources)),
				logger.WithField("removed", len(batch.Removed)))
			e.runLogged(ctx, CompileOptions{Sources: batch.Sources, Removed: batch.Removed})
		}
	}
}

func (e *Engine) runLogged(ctx context.Context, opts CompileOptions) {
	report, err := e.Compile(ctx, opts)
	switch {
	case report == nil && err != nil:
		e.logger.Error("Compilation did not start", logger.WithError(err))
	case err != nil:
		e.logger.Error(fmt.Sprintf("Compilation %s", report.Outcome), logger.WithError(err))
	default:
		e.logger.Success(fmt.Sprintf("Compilation committed in %s", report.Duration.Round(time.Millisecond)))
	}
}

func (e *Engine) absolute(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.config.ProjectRoot, path)
		}
		out = append(out, filepath.Clean(path))
	}
	return out
}

// withPending appends the pending sources still in current to explicit
func withPending(explicit, pending, current []string) []string {
	if len(pending) == 0 {
		return explicit
	}
	present := make(map[string]bool, len(current))
	for _, source := range current {
		present[filepath.Clean(source)] = true
	}
	included := make(map[string]bool, len(explicit))
	for _, source := range explicit {
		included[filepath.Clean(source)] = true
	}

	sources := append([]string(nil), explicit...)
	for _, source := range pending {
		source = filepath.Clean(source)
		if present[source] && !included[source] {
			included[source] = true
			sources = append(sources, source)
		}
	}
	return sources
}

// mergeRemoved unions removal lists, dropping sources about to be compiled
func mergeRemoved(compiled []string, lists ...[]string) []string {
	skip := make(map[string]bool, len(compiled))
	for _, source := range compiled {
		skip[filepath.Clean(source)] = true
	}
	var removed []string
	for _, list := range lists {
		for _, source := range list {
			source = filepath.Clean(source)
			if skip[source] {
				continue
			}
			skip[source] = true
			removed = append(removed, source)
		}
	}
	sort.Strings(removed)
	return removed
}
