package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var family string
	var format string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new objtx configuration",
		Long: `Initialize a new objtx configuration in the project root. The compiler
family is detected from the project files unless given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(types.CompilerFamily(family), format, force)
		},
	}

	cmd.Flags().StringVarP(&family, "family", "t", "", "compiler family (gcc, clang, visualcpp, mirror)")
	cmd.Flags().StringVar(&format, "format", "yaml", "configuration format (yaml, json)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func (c *CLI) runInit(family types.CompilerFamily, format string, force bool) error {
	path := c.config.ConfigFile
	if path == "" {
		switch format {
		case "yaml", "yml":
			path = filepath.Join(c.config.ProjectRoot, ConfigName+".yaml")
		case "json":
			path = filepath.Join(c.config.ProjectRoot, ConfigName+".json")
		default:
			return fmt.Errorf("unsupported configuration format: %s", format)
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration already exists at %s, use --force to overwrite", path)
	}

	if family == "" {
		family = detectFamily(c.config.ProjectRoot)
		c.printInfo(fmt.Sprintf("Detected compiler family: %s", family))
	} else if _, err := resolver.ForFamily(family, c.config.ProjectRoot); err != nil {
		return err
	}

	manager := config.NewManager()
	if err := manager.SaveConfig(path, manager.GetDefaultConfig(family)); err != nil {
		return err
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", path))
	c.printInfo("Edit the configuration to set include paths, macros and per-source options")
	return nil
}

// detectFamily guesses the compiler family from the files of a project
func detectFamily(root string) types.CompilerFamily {
	family := types.FamilyGCC
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".sln", ".vcxproj":
			family = types.FamilyVisualCpp
			return filepath.SkipAll
		case ".m", ".mm":
			family = types.FamilyClang
		}
		return nil
	})
	return family
}
