package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/internal/state"
	"github.com/nokeedev/objtx/pkg/types"
)

func (c *CLI) newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the transaction state of each object directory",
		Long: `Display the recorded state of every object directory compiled in this
project: the last transaction's outcome, when it ran, and how many
transactions and rollbacks happened so far.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	return cmd
}

func (c *CLI) projectRoot() (string, error) {
	if cfg, err := c.loadProject(); err == nil {
		return cfg.ProjectRoot, nil
	}
	return filepath.Abs(c.config.ProjectRoot)
}

func (c *CLI) runStatus(asJSON bool) error {
	root, err := c.projectRoot()
	if err != nil {
		return err
	}

	records, err := state.NewManager(root, c.logger).Discover()
	if err != nil {
		return fmt.Errorf("failed to discover transaction records: %w", err)
	}

	if asJSON {
		if records == nil {
			records = []*state.TransactionRecord{}
		}
		encoder := json.NewEncoder(c.output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}

	if len(records) == 0 {
		c.printInfo("No transactions recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT DIR\tSTATUS\tLAST RUN\tSOURCES\tTRANSACTIONS\tROLLBACKS")
	fmt.Fprintln(w, "----------\t------\t--------\t-------\t------------\t---------")

	for _, record := range records {
		objectDir := record.ObjectDir
		if rel, err := filepath.Rel(root, objectDir); err == nil && filepath.IsLocal(rel) {
			objectDir = rel
		}

		lastRun := "-"
		if !record.StartedAt.IsZero() {
			lastRun = record.StartedAt.Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			objectDir,
			c.statusString(record),
			lastRun,
			len(record.CommittedSources),
			record.Transactions,
			record.Rollbacks,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, record := range records {
		if record.LastError != "" {
			c.printWarning(fmt.Sprintf("%s: %s", record.ObjectDir, record.LastError))
		}
	}
	return nil
}

func (c *CLI) statusString(record *state.TransactionRecord) string {
	status := string(record.Outcome)
	if record.InProgress() {
		status = "in progress (" + string(record.State) + ")"
	}
	if status == "" {
		status = "idle"
	}
	if c.plain {
		return status
	}

	switch {
	case record.InProgress():
		return color.YellowString(status)
	case record.Outcome == types.OutcomeCommitted:
		return color.GreenString(status)
	case record.Outcome == types.OutcomeRolledBack, record.Outcome == types.OutcomeFailed:
		return color.RedString(status)
	}
	return status
}
