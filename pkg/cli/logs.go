package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/oplog"
)

func (c *CLI) newLogsCmd() *cobra.Command {
	var lines int
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display the compiler output of the last compilation",
		Long: `Display the output every compiler invocation of the last compilation
produced, as recorded in the operation log of the temporary directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLogs(lines, failedOnly)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "show only the last n lines (0 for all)")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "show only failed operations")

	return cmd
}

func (c *CLI) runLogs(lines int, failedOnly bool) error {
	cfg, err := c.loadProject()
	if err != nil {
		return err
	}

	path := filepath.Join(config.TempDir(cfg), oplog.FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.printInfo("No compilation output recorded yet")
			return nil
		}
		return fmt.Errorf("failed to read operation log: %w", err)
	}

	content := strings.TrimRight(string(data), "\n")
	if failedOnly {
		content = failedEntries(content)
	}

	output := strings.Split(content, "\n")
	if lines > 0 && len(output) > lines {
		output = output[len(output)-lines:]
	}
	_, err = fmt.Fprintln(c.output, strings.Join(output, "\n"))
	return err
}

// failedEntries keeps the entries of the operation log whose header marks a failure
func failedEntries(content string) string {
	var (
		kept    []string
		keeping bool
	)
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "=== ") && strings.HasSuffix(line, " ===") {
			keeping = strings.HasSuffix(line, " failed. ===")
		}
		if keeping {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
