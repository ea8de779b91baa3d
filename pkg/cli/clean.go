package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/internal/state"
	"github.com/nokeedev/objtx/pkg/config"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete object files, temporary files and the transaction record",
		Long: `Delete the object directory, the temporary directory and the transaction
record of the project. The next compilation starts from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean()
		},
	}
}

func (c *CLI) runClean() error {
	cfg, err := c.loadProject()
	if err != nil {
		return err
	}

	objectDir := config.ObjectDir(cfg)
	// Refuses while another process compiles into the object directory
	if err := state.NewManager(cfg.ProjectRoot, c.logger).Remove(objectDir); err != nil {
		return err
	}

	for _, dir := range []string{objectDir, config.TempDir(cfg)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}

	c.printSuccess("Removed object files and transaction state")
	return nil
}
