// Package staging keeps reversible copies of object files for the duration
// of one compile transaction.
//
// Two holding areas live under <tempDir>/compile-transaction: stash, for the
// objects of sources removed from the build, and backup, for the objects of
// sources about to be recompiled. Copies are taken, never moves, so the live
// object directory stays a complete compiler output while the compiler runs.
package staging

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
	"github.com/nokeedev/objtx/pkg/utils"
)

// DirName is the staging directory created under a task temporary directory
const DirName = "compile-transaction"

// ErrAlreadyStaged is returned when a live unit is staged twice in one transaction
var ErrAlreadyStaged = errors.New("artifact already staged")

// Artifact is the staged copy of one source's object output
type Artifact struct {
	Source string
	// LivePath is the object file inside the object directory
	LivePath string
	// LiveUnit is what gets deleted and restored: LivePath or its directory
	LiveUnit string
	// StagedPath is the copy of LiveUnit inside the staging root
	StagedPath string
	Kind       types.StagingKind
	// Existed records whether LiveUnit was present when staged
	Existed bool
}

// OpError describes a failed staging operation
type OpError struct {
	Op     string
	Kind   types.StagingKind
	Source string
	Path   string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s artifact of %s at %s: %v", e.Op, e.Kind, e.Source, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Area manages the stash and backup holding areas of one transaction
type Area struct {
	root      string
	objectDir string
	resolver resolver.Resolver
	fs       interfaces.FileSystem
	logger   logger.Logger

	staged  map[string]types.StagingKind
	stashed []*Artifact
	backups []*Artifact
}

// RootFor returns the staging root used for a task temporary directory
func RootFor(tempDir string) string {
	return filepath.Join(tempDir, DirName)
}

// NewArea creates a staging area under tempDir for the objects of
// objectDir. Staged paths are derived with the same resolver as live paths,
// so each source gets its own slot.
func NewArea(tempDir, objectDir string, r resolver.Resolver, fs interfaces.FileSystem, log logger.Logger) *Area {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Area{
		root:      RootFor(tempDir),
		objectDir: objectDir,
		resolver:  r,
		fs:        fs,
		logger:    log,
		staged:    make(map[string]types.StagingKind),
	}
}

// Root returns the staging root directory
func (a *Area) Root() string {
	return a.root
}

// Prepare removes a staging root left behind by an interrupted transaction
func (a *Area) Prepare() error {
	if !a.fs.Exists(a.root) {
		return nil
	}
	a.logger.Warn("Removing stale staging directory", logger.WithField("path", a.root))
	if err := a.fs.RemoveAll(a.root); err != nil {
		return fmt.Errorf("failed to remove stale staging directory %s: %w", a.root, err)
	}
	return nil
}

// Stash stages the object output of a source removed from the build
func (a *Area) Stash(source, livePath string) (*Artifact, error) {
	artifact, err := a.stage(types.StagingKindStash, source, livePath)
	if err != nil {
		return nil, err
	}
	a.stashed = append(a.stashed, artifact)
	return artifact, nil
}

// Backup stages the object output of a source about to be recompiled
func (a *Area) Backup(source, livePath string) (*Artifact, error) {
	artifact, err := a.stage(types.StagingKindBackup, source, livePath)
	if err != nil {
		return nil, err
	}
	a.backups = append(a.backups, artifact)
	return artifact, nil
}

func (a *Area) stage(kind types.StagingKind, source, livePath string) (*Artifact, error) {
	liveUnit := resolver.UnitOf(a.resolver, livePath)
	if previous, ok := a.staged[liveUnit]; ok {
		return nil, &OpError{Op: "stage", Kind: kind, Source: source, Path: liveUnit,
			Err: fmt.Errorf("%w in %s", ErrAlreadyStaged, previous)}
	}

	stagedArtifact, err := a.resolver.Resolve(source, filepath.Join(a.root, string(kind)))
	if err != nil {
		return nil, &OpError{Op: "resolve", Kind: kind, Source: source, Path: livePath, Err: err}
	}

	artifact := &Artifact{
		Source:     source,
		LivePath:   livePath,
		LiveUnit:   liveUnit,
		StagedPath: resolver.UnitOf(a.resolver, stagedArtifact),
		Kind:       kind,
	}

	if a.fs.Exists(liveUnit) {
		if err := a.fs.Copy(liveUnit, artifact.StagedPath); err != nil {
			return nil, &OpError{Op: "copy", Kind: kind, Source: source, Path: liveUnit, Err: err}
		}
		artifact.Existed = true
	}

	a.staged[liveUnit] = kind
	a.logger.Debug(fmt.Sprintf("Staged %s", source),
		logger.WithField("kind", kind),
		logger.WithField("existed", artifact.Existed))

	return artifact, nil
}

// Restore puts the live unit back to its staged state: whatever is there
// now is deleted, then the staged copy is copied back if the unit existed.
// Directories left empty below the object directory are removed with an
// absent unit. Restoring twice yields the same result as restoring once.
func (a *Area) Restore(artifact *Artifact) error {
	if err := a.fs.RemoveAll(artifact.LiveUnit); err != nil {
		return &OpError{Op: "delete", Kind: artifact.Kind, Source: artifact.Source, Path: artifact.LiveUnit, Err: err}
	}
	if !artifact.Existed {
		if a.objectDir != "" {
			utils.RemoveEmptyParents(filepath.Dir(artifact.LiveUnit), a.objectDir)
		}
		return nil
	}
	if err := a.fs.Copy(artifact.StagedPath, artifact.LiveUnit); err != nil {
		return &OpError{Op: "restore", Kind: artifact.Kind, Source: artifact.Source, Path: artifact.LiveUnit, Err: err}
	}
	return nil
}

// RestoreAll restores every backup, then every stash. All artifacts are
// attempted; the returned error joins every failure.
func (a *Area) RestoreAll() error {
	var errs []error
	for _, artifacts := range [][]*Artifact{a.backups, a.stashed} {
		for _, artifact := range artifacts {
			if err := a.Restore(artifact); err != nil {
				a.logger.Error("Failed to restore artifact",
					logger.WithField("source", artifact.Source),
					logger.WithError(err))
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// DiscardAll deletes the whole staging root
func (a *Area) DiscardAll() error {
	if err := a.fs.RemoveAll(a.root); err != nil {
		return fmt.Errorf("failed to discard staging directory %s: %w", a.root, err)
	}
	return nil
}

// Stashed returns the artifacts staged in the stash area
func (a *Area) Stashed() []*Artifact {
	return a.stashed
}

// Backups returns the artifacts staged in the backup area
func (a *Area) Backups() []*Artifact {
	return a.backups
}
