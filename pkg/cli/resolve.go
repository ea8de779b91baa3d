package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
)

func (c *CLI) newResolveCmd() *cobra.Command {
	var family string
	var unit bool

	cmd := &cobra.Command{
		Use:   "resolve <source>...",
		Short: "Print the object file of each source",
		Long: `Print where the configured compiler family writes the object file of each
source. With --unit, print the path a transaction stages instead: the
object's own directory for hashed layouts, the object file for the mirror
layout.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runResolve(args, types.CompilerFamily(family), unit)
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "compiler family to resolve for (default: configured family)")
	cmd.Flags().BoolVar(&unit, "unit", false, "print the staged unit instead of the object file")

	return cmd
}

func (c *CLI) runResolve(sources []string, family types.CompilerFamily, unit bool) error {
	cfg, err := c.loadProject()
	if err != nil {
		return err
	}
	if family == "" {
		family = cfg.Compiler.Family
	}

	r, err := resolver.ForFamily(family, cfg.ProjectRoot)
	if err != nil {
		return err
	}

	refs, err := resolver.Refs(r, absolutePaths(sources), config.ObjectDir(cfg))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	for _, ref := range refs {
		path := ref.Path
		if unit {
			path = resolver.UnitOf(r, path)
		}
		fmt.Fprintf(w, "%s\t%s\n", ref.Source, path)
	}
	return w.Flush()
}
