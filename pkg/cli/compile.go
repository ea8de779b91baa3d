package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/internal/engine"
	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/oplog"
	"github.com/nokeedev/objtx/pkg/transaction"
	"github.com/nokeedev/objtx/pkg/types"
)

func (c *CLI) newCompileCmd() *cobra.Command {
	var rebuild bool
	var removed []string

	cmd := &cobra.Command{
		Use:   "compile [sources...]",
		Short: "Compile sources inside a transaction",
		Long: `Compile the configured sources, or only the given ones, inside a transaction.

Objects of sources that were part of the last successful compilation but no
longer exist are deleted. If the compilation fails, every object file is put
back the way it was.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCompile(cmd, args, removed, rebuild)
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "start from an empty object directory")
	cmd.Flags().StringSliceVar(&removed, "removed", nil, "additional sources whose objects must be deleted")

	return cmd
}

func (c *CLI) runCompile(cmd *cobra.Command, args, removed []string, rebuild bool) error {
	cfg, err := c.loadProject()
	if err != nil {
		return err
	}

	eng, err := c.newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.Compile(cmd.Context(), engine.CompileOptions{
		Sources: absolutePaths(args),
		Removed: absolutePaths(removed),
		Rebuild: rebuild,
	})
	if report == nil {
		return err
	}

	c.printReport(report, err, filepath.Join(config.TempDir(cfg), oplog.FileName))
	return err
}

func (c *CLI) printReport(report *transaction.Report, err error, logPath string) {
	duration := report.Duration.Round(time.Millisecond)

	switch report.Outcome {
	case types.OutcomeCommitted:
		if !report.Result.DidWork {
			c.printInfo("Object files are up to date")
			return
		}
		if len(report.BackedUp) == 0 && len(report.Stashed) == 0 {
			c.printSuccess(fmt.Sprintf("Compiled in %s", duration))
			return
		}
		c.printSuccess(fmt.Sprintf("Compiled %d source(s), removed %d, in %s",
			len(report.BackedUp), len(report.Stashed), duration))
	case types.OutcomeRolledBack:
		var rollbackErr *transaction.RollbackError
		if errors.As(err, &rollbackErr) {
			c.printError(fmt.Sprintf("Object files could not be restored, staged copies kept in %s", rollbackErr.StagingDir))
			return
		}
		c.printWarning(fmt.Sprintf("Compilation failed after %s, object files restored (see %s)", duration, logPath))
	case types.OutcomeFailed:
		c.printError(fmt.Sprintf("Compilation failed after %s (see %s)", duration, logPath))
	default:
		c.printError("Compilation did not start")
	}
}

func absolutePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		out = append(out, path)
	}
	return out
}
