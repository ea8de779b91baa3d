// Package cli provides the command-line interface for objtx
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nokeedev/objtx/internal/engine"
	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/types"
)

// ConfigName is the configuration file name without extension
const ConfigName = "objtx"

// EnvPrefix prefixes environment overrides, e.g. OBJTX_OBJECTDIR
const EnvPrefix = "OBJTX"

// CLI holds the command tree and everything commands share
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	logger   logger.Logger
	console  *logger.ConsoleLogger
	output   io.Writer
	errorOut io.Writer
	plain    bool

	// overrides replaces collaborators of the engine, for tests
	overrides engine.Dependencies
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		viper:    viper.New(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	c.console = logger.NewConsoleLogger(c.output, c.errorOut)
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI writing to the given writers without colors
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.plain = true
	c.console = logger.NewConsoleLogger(output, errorOut)
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

// ExecuteWithVersion runs the CLI on the process arguments
func ExecuteWithVersion(version string) error {
	cfg := NewConfig()
	cfg.Version = version
	return NewCLI(cfg).Execute(os.Args[1:])
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "objtx",
		Short: "Transactional native object compilation",
		Long: `objtx compiles C and C++ sources into an object directory, one transaction
per run. A failed compilation leaves the object directory exactly as the last
successful one did, so the next run stays incremental.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("objtx v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newCompileCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newResolveCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newLogsCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: objtx.yaml or objtx.json in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", ".", "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	_ = c.viper.BindPFlag("verbosity", flags.Lookup("verbosity"))
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.viper.SetEnvPrefix(EnvPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()

	c.config.Verbosity = c.viper.GetString("verbosity")
	c.logger = c.createLogger("", c.config.Verbosity)

	if c.config.ConfigFile != "" {
		c.viper.SetConfigFile(c.config.ConfigFile)
	} else {
		c.viper.AddConfigPath(c.config.ProjectRoot)
		c.viper.SetConfigName(ConfigName)
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && c.config.ConfigFile == "" {
			c.logger.Warn("Failed to read configuration", logger.WithError(err))
		}
		return nil
	}

	c.logger.Debug("Using config file", logger.WithField("file", c.viper.ConfigFileUsed()))
	return nil
}

func (c *CLI) createLogger(logFile, level string) logger.Logger {
	if c.plain {
		return logger.CreateLoggerWithOutput(logFile, level, c.errorOut)
	}
	return logger.CreateLogger(logFile, level)
}

// configPath returns the configuration file in use, or where init writes one
func (c *CLI) configPath() string {
	if c.config.ConfigFile != "" {
		return c.config.ConfigFile
	}
	if used := c.viper.ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(c.config.ProjectRoot, ConfigName+".yaml")
}

// loadProject loads and validates the configuration with environment
// overrides applied
func (c *CLI) loadProject() (*types.ProjectConfig, error) {
	path := c.configPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no configuration at %s, run 'objtx init' first", path)
	}

	manager := config.NewManager()
	cfg, err := manager.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if c.applyOverrides(cfg) {
		if err := manager.ValidateConfig(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Logging != nil {
		level := c.config.Verbosity
		if cfg.Logging.Level != "" && !c.verbosityOverridden() {
			level = string(cfg.Logging.Level)
		}
		logFile := cfg.Logging.File
		if logFile != "" && !filepath.IsAbs(logFile) {
			logFile = filepath.Join(cfg.ProjectRoot, logFile)
		}
		c.logger = c.createLogger(logFile, level)
	}
	return cfg, nil
}

func (c *CLI) verbosityOverridden() bool {
	if c.rootCmd.PersistentFlags().Changed("verbosity") {
		return true
	}
	_, ok := os.LookupEnv(EnvPrefix + "_VERBOSITY")
	return ok
}

// applyOverrides applies OBJTX_* environment variables to cfg and reports
// whether anything changed
func (c *CLI) applyOverrides(cfg *types.ProjectConfig) bool {
	changed := false
	setString := func(key string, target *string) {
		if value := c.viper.GetString(key); value != "" && value != *target {
			*target = value
			changed = true
		}
	}

	setString("objectDir", &cfg.ObjectDir)
	setString("tempDir", &cfg.TempDir)
	setString("compiler.executable", &cfg.Compiler.Executable)

	family := string(cfg.Compiler.Family)
	setString("compiler.family", &family)
	cfg.Compiler.Family = types.CompilerFamily(family)

	if n := c.viper.GetInt("compiler.parallelism"); n > 0 && n != cfg.Compiler.Parallelism {
		cfg.Compiler.Parallelism = n
		changed = true
	}
	return changed
}

// newEngine creates the engine for cfg with the CLI's overrides
func (c *CLI) newEngine(cfg *types.ProjectConfig) (*engine.Engine, error) {
	deps, err := engine.NewDependencyFactory(cfg, c.logger).CreateWithOverrides(c.overrides)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, c.logger, deps)
}

func (c *CLI) printSuccess(message string) {
	c.console.Success(message)
}

func (c *CLI) printError(message string) {
	c.console.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.console.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.console.Warn(message)
}
