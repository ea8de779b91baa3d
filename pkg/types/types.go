// Package types provides core types and configurations for objtx
package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CompilerFamily identifies a toolchain and, through it, the object file
// naming convention the toolchain follows
type CompilerFamily string

const (
	FamilyGCC       CompilerFamily = "gcc"
	FamilyClang     CompilerFamily = "clang"
	FamilyVisualCpp CompilerFamily = "visualcpp"
	FamilyMirror    CompilerFamily = "mirror"
)

// TransactionOutcome is the terminal value of a compile transaction
type TransactionOutcome string

const (
	OutcomeCommitted  TransactionOutcome = "committed"
	OutcomeRolledBack TransactionOutcome = "rolled-back"
	// OutcomeAborted marks a transaction that never reached the delegate
	OutcomeAborted TransactionOutcome = "aborted"
	// OutcomeFailed marks a failed compilation run without a transaction;
	// its object directory may hold partial output
	OutcomeFailed TransactionOutcome = "failed"
)

// TransactionState represents a step of the coordinator state machine
type TransactionState string

const (
	StateInit       TransactionState = "init"
	StateStashed    TransactionState = "stashed"
	StateBackedUp   TransactionState = "backed-up"
	StateInvoking   TransactionState = "invoking"
	StateCommitted  TransactionState = "committed"
	StateRolledBack TransactionState = "rolled-back"
)

// IsTerminal reports whether no transition leaves the state
func (s TransactionState) IsTerminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// StagingKind distinguishes the two holding areas of a transaction
type StagingKind string

const (
	// StagingKindStash holds artifacts of sources removed from the build
	StagingKindStash StagingKind = "stash"
	// StagingKindBackup holds artifacts of sources about to be recompiled
	StagingKindBackup StagingKind = "backup"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CompileRequest describes one batch compilation
type CompileRequest struct {
	// Sources are compiled now, in order
	Sources []string `json:"sources"`
	// RemovedSources are no longer part of the build since the prior run
	RemovedSources []string `json:"removedSources,omitempty"`
	// ObjectDir is the persistent object output root
	ObjectDir string `json:"objectDir"`
	// TempDir is the task temporary directory; staging lives under it
	TempDir string `json:"tempDir"`

	Args        []string          `json:"args,omitempty"`
	Includes    []string          `json:"includes,omitempty"`
	Macros      map[string]string `json:"macros,omitempty"`
	Incremental bool              `json:"incremental"`
}

// Clone returns a deep copy of the request
func (r *CompileRequest) Clone() *CompileRequest {
	c := *r
	c.Sources = append([]string(nil), r.Sources...)
	c.RemovedSources = append([]string(nil), r.RemovedSources...)
	c.Args = append([]string(nil), r.Args...)
	c.Includes = append([]string(nil), r.Includes...)
	if r.Macros != nil {
		c.Macros = make(map[string]string, len(r.Macros))
		for k, v := range r.Macros {
			c.Macros[k] = v
		}
	}
	return &c
}

// Validate checks the structural invariants of the request: the source sets
// are disjoint and the object and temporary roots do not overlap
func (r *CompileRequest) Validate() error {
	if r.ObjectDir == "" {
		return fmt.Errorf("object directory not specified")
	}
	if r.TempDir == "" {
		return fmt.Errorf("temporary directory not specified")
	}
	if Overlaps(r.ObjectDir, r.TempDir) {
		return fmt.Errorf("object directory %s and temporary directory %s overlap", r.ObjectDir, r.TempDir)
	}

	compiled := make(map[string]bool, len(r.Sources))
	for _, source := range r.Sources {
		compiled[filepath.Clean(source)] = true
	}
	for _, source := range r.RemovedSources {
		if compiled[filepath.Clean(source)] {
			return fmt.Errorf("source %s is both compiled and removed", source)
		}
	}

	return nil
}

// Overlaps reports whether one path is equal to or nested inside the other
func Overlaps(a, b string) bool {
	a, b = absClean(a), absClean(b)
	return a == b || isWithin(a, b) || isWithin(b, a)
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func absClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// ArtifactRef pairs a source with the object file the compiler produces for it
type ArtifactRef struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// WorkResult reports whether a compilation did any work
type WorkResult struct {
	DidWork bool `json:"didWork"`
}

// DidWork creates a work result
func DidWork(didWork bool) WorkResult {
	return WorkResult{DidWork: didWork}
}

// Or combines two results; work was done if either did work
func (w WorkResult) Or(other WorkResult) WorkResult {
	return WorkResult{DidWork: w.DidWork || other.DidWork}
}

// ProjectConfig represents the objtx configuration file
type ProjectConfig struct {
	Version     string   `json:"version" yaml:"version"`
	ProjectRoot string   `json:"projectRoot,omitempty" yaml:"projectRoot,omitempty"`
	Sources     []string `json:"sources" yaml:"sources"`
	Exclude     []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	ObjectDir   string   `json:"objectDir" yaml:"objectDir"`
	TempDir     string   `json:"tempDir" yaml:"tempDir"`

	// IncrementalAfterFailure wraps compilation in a transaction so a failed
	// compile leaves the previous objects in place (default: true)
	IncrementalAfterFailure *bool `json:"incrementalAfterFailure,omitempty" yaml:"incrementalAfterFailure,omitempty"`

	Compiler      CompilerConfig      `json:"compiler" yaml:"compiler"`
	PerSource     []SourceOptions     `json:"perSource,omitempty" yaml:"perSource,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
	Watch         *WatchConfig        `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// IsIncrementalAfterFailure reports whether transactional compilation is on
func (c *ProjectConfig) IsIncrementalAfterFailure() bool {
	if c.IncrementalAfterFailure == nil {
		return true
	}
	return *c.IncrementalAfterFailure
}

// CompilerConfig configures the toolchain
type CompilerConfig struct {
	Family      CompilerFamily    `json:"family" yaml:"family"`
	Executable  string            `json:"executable,omitempty" yaml:"executable,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Includes    []string          `json:"includes,omitempty" yaml:"includes,omitempty"`
	Macros      map[string]string `json:"macros,omitempty" yaml:"macros,omitempty"`
	Parallelism int               `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// SourceOptions applies extra compiler options to sources matching patterns
type SourceOptions struct {
	Patterns []string          `json:"patterns" yaml:"patterns"`
	Args     []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Macros   map[string]string `json:"macros,omitempty" yaml:"macros,omitempty"`
}

// NotificationConfig configures desktop notifications
type NotificationConfig struct {
	Enabled        *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	NotifyOnCommit bool  `json:"notifyOnCommit,omitempty" yaml:"notifyOnCommit,omitempty"`
}

// LoggingConfig configures logging output
type LoggingConfig struct {
	File  string   `json:"file,omitempty" yaml:"file,omitempty"`
	Level LogLevel `json:"level,omitempty" yaml:"level,omitempty"`
}

// WatchConfig configures the watch command
type WatchConfig struct {
	// SettlingDelay in milliseconds before a batch of changes is compiled
	SettlingDelay int `json:"settlingDelay,omitempty" yaml:"settlingDelay,omitempty"`
}
