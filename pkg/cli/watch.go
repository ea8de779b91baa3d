package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/types"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Compile on every source change",
		Long: `Compile every source, then watch the source tree and compile each settled
batch of changes in its own transaction. Changed sources are recompiled and
the objects of deleted sources are removed. The configuration file is
reloaded when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runWatch(ctx)
		},
	}
}

func (c *CLI) runWatch(ctx context.Context) error {
	cfg, err := c.loadProject()
	if err != nil {
		return err
	}

	reloaded := make(chan *types.ProjectConfig, 1)
	reloader := config.NewReloadManager(c.configPath(), c.logger)
	reloader.AddCallback(func(next *types.ProjectConfig, err error) {
		if err != nil {
			c.printWarning(fmt.Sprintf("Keeping previous configuration: %v", err))
			return
		}
		c.applyOverrides(next)
		select {
		case reloaded <- next:
		default:
			// a newer configuration replaces the one not picked up yet
			select {
			case <-reloaded:
			default:
			}
			reloaded <- next
		}
	})
	if err := reloader.StartWatching(); err != nil {
		c.logger.Warn("Configuration changes will not be picked up", logger.WithError(err))
	} else {
		defer reloader.StopWatching()
	}

	c.printInfo(fmt.Sprintf("Watching %s", cfg.ProjectRoot))

	for {
		eng, err := c.newEngine(cfg)
		if err != nil {
			return err
		}

		watchCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- eng.Watch(watchCtx) }()

		select {
		case next := <-reloaded:
			cancel()
			err = <-done
			eng.Close()
			if err != nil {
				return err
			}
			c.printInfo("Configuration changed, restarting")
			cfg = next

		case err = <-done:
			cancel()
			eng.Close()
			if err != nil {
				return err
			}
			c.printSuccess("Stopped watching")
			return nil
		}
	}
}
