// Package compiler provides the compilers a transaction delegates to: a
// command compiler running a native toolchain once per source, and a
// bucketing compiler splitting a request by per-source options.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
	"github.com/nokeedev/objtx/pkg/utils"
)

// CompileFailure is returned when at least one source failed to compile
type CompileFailure struct {
	Tool    string
	Sources []string
}

func (e *CompileFailure) Error() string {
	names := make([]string, len(e.Sources))
	for i, source := range e.Sources {
		names[i] = filepath.Base(source)
	}
	return fmt.Sprintf("%s failed while compiling %s.", e.Tool, strings.Join(names, ", "))
}

// CommandCompiler compiles each source of a request with one invocation of
// a toolchain executable. Sources are compiled in parallel.
type CommandCompiler struct {
	family      types.CompilerFamily
	executable  string
	resolver    resolver.Resolver
	workDir     string
	environment map[string]string
	parallelism int
	logger      logger.Logger
}

// NewCommandCompiler creates a compiler for the configured toolchain.
// Objects are written where r says they belong; commands run in workDir.
func NewCommandCompiler(cfg types.CompilerConfig, r resolver.Resolver, workDir string, log logger.Logger) (*CommandCompiler, error) {
	executable := cfg.Executable
	if executable == "" {
		executable = DefaultExecutable(cfg.Family)
	}
	if executable == "" {
		return nil, fmt.Errorf("no compiler executable for family %q", cfg.Family)
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &CommandCompiler{
		family:      cfg.Family,
		executable:  executable,
		resolver:    r,
		workDir:     workDir,
		environment: cfg.Environment,
		parallelism: parallelism,
		logger:      log,
	}, nil
}

// DefaultExecutable returns the usual driver of a compiler family
func DefaultExecutable(family types.CompilerFamily) string {
	switch family {
	case types.FamilyGCC:
		return "gcc"
	case types.FamilyClang:
		return "clang"
	case types.FamilyVisualCpp:
		return "cl"
	case types.FamilyMirror:
		return "cc"
	default:
		return ""
	}
}

// Execute implements interfaces.Compiler. Objects of removed sources are
// deleted first; a non-incremental request starts from an empty object
// directory.
func (c *CommandCompiler) Execute(ctx context.Context, req *types.CompileRequest, listener interfaces.OperationListener) (types.WorkResult, error) {
	defer listener.Done()

	didWork := false
	if !req.Incremental {
		if utils.DirectoryExists(req.ObjectDir) {
			c.logger.Debug("Cleaning object directory", logger.WithField("path", req.ObjectDir))
			if err := os.RemoveAll(req.ObjectDir); err != nil {
				return types.DidWork(false), fmt.Errorf("failed to clean object directory: %w", err)
			}
			didWork = true
		}
	} else {
		removed, err := c.removeStale(req)
		if err != nil {
			return types.DidWork(removed), err
		}
		didWork = removed
	}

	if len(req.Sources) == 0 {
		return types.DidWork(didWork), nil
	}

	var (
		mu     sync.Mutex
		failed []string
	)

	group, groupCtx := NewSafeGroup(ctx, c.logger)
	group.SetLimit(c.parallelism)

	for _, source := range req.Sources {
		source := source
		group.Go(func() error {
			description := "Compiling " + filepath.Base(source)
			output, err := c.compile(groupCtx, req, source)
			if err != nil {
				listener.OperationFailed(description, output)
				mu.Lock()
				failed = append(failed, source)
				mu.Unlock()
				return nil
			}
			listener.OperationSuccess(description, output)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return types.DidWork(true), err
	}
	if err := ctx.Err(); err != nil {
		return types.DidWork(true), err
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return types.DidWork(true), &CompileFailure{Tool: ToolName(req.Sources), Sources: failed}
	}
	return types.DidWork(true), nil
}

func (c *CommandCompiler) removeStale(req *types.CompileRequest) (bool, error) {
	removed := false
	for _, source := range req.RemovedSources {
		objectFile, err := c.resolver.Resolve(source, req.ObjectDir)
		if err != nil {
			return removed, err
		}
		unit := resolver.UnitOf(c.resolver, objectFile)
		if !utils.FileExists(unit) && !utils.DirectoryExists(unit) {
			continue
		}
		if err := os.RemoveAll(unit); err != nil {
			return removed, fmt.Errorf("failed to delete object file of %s: %w", source, err)
		}
		utils.RemoveEmptyParents(filepath.Dir(unit), req.ObjectDir)
		removed = true
	}
	return removed, nil
}

// compile runs the toolchain for one source and returns its combined output
func (c *CommandCompiler) compile(ctx context.Context, req *types.CompileRequest, source string) (string, error) {
	objectFile, err := c.resolver.Resolve(source, req.ObjectDir)
	if err != nil {
		return err.Error(), err
	}
	if err := os.MkdirAll(filepath.Dir(objectFile), 0755); err != nil {
		return err.Error(), err
	}

	args := c.Arguments(req, source, objectFile)
	cmd := exec.CommandContext(ctx, c.executable, args...)
	cmd.Dir = c.workDir
	if len(c.environment) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	c.logger.Debug("Executing compiler",
		logger.WithField("source", source),
		logger.WithField("command", c.executable+" "+strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		return output.String(), err
	}
	return output.String(), nil
}

// Arguments returns the command line compiling source into objectFile
func (c *CommandCompiler) Arguments(req *types.CompileRequest, source, objectFile string) []string {
	macros := make([]string, 0, len(req.Macros))
	for name := range req.Macros {
		macros = append(macros, name)
	}
	sort.Strings(macros)

	if c.family == types.FamilyVisualCpp {
		args := []string{"/nologo"}
		args = append(args, req.Args...)
		for _, include := range req.Includes {
			args = append(args, "/I"+include)
		}
		for _, name := range macros {
			args = append(args, "/D"+macroDefinition(name, req.Macros[name]))
		}
		return append(args, "/c", source, "/Fo"+objectFile)
	}

	var args []string
	args = append(args, req.Args...)
	for _, include := range req.Includes {
		args = append(args, "-I", include)
	}
	for _, name := range macros {
		args = append(args, "-D"+macroDefinition(name, req.Macros[name]))
	}
	return append(args, "-c", source, "-o", objectFile)
}

func macroDefinition(name, value string) string {
	if value == "" {
		return name
	}
	return name + "=" + value
}

// ToolName names the compiler in failure messages after the language of sources
func ToolName(sources []string) string {
	for _, source := range sources {
		if filepath.Ext(source) != ".c" {
			return "C++ compiler"
		}
	}
	return "C compiler"
}
