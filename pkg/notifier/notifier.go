// Package notifier sends desktop notifications about compile transactions
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/nokeedev/objtx/pkg/logger"
)

// Config represents notification configuration
type Config struct {
	Enabled bool
	// NotifyOnCommit also notifies successful transactions
	NotifyOnCommit bool
	// Sound beeps on rollback failures
	Sound bool
}

// BuildNotifier reports transaction outcomes through desktop notifications
type BuildNotifier struct {
	config Config
	logger logger.Logger
	notify func(title, message string) error
	beep   func() error
}

// New creates a new notifier
func New(config Config, log logger.Logger) *BuildNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &BuildNotifier{
		config: config,
		logger: log,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

// NotifyCommitted notifies a successful transaction when enabled for commits
func (n *BuildNotifier) NotifyCommitted(task string, duration time.Duration) {
	if !n.config.Enabled || !n.config.NotifyOnCommit {
		return
	}
	n.send("✅ Compiled", fmt.Sprintf("%s compiled in %s", task, formatDuration(duration)))
}

// NotifyRolledBack notifies a failed compilation whose objects were restored
func (n *BuildNotifier) NotifyRolledBack(task string, err error) {
	if !n.config.Enabled {
		return
	}
	message := fmt.Sprintf("%s failed, previous objects restored", task)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	n.send("❌ Compilation Failed", message)
}

// NotifyRollbackFailed notifies that the object directory could not be
// restored. It is sent even when notifications are disabled.
func (n *BuildNotifier) NotifyRollbackFailed(task string, err error) {
	n.send("⚠️ Rollback Failed", fmt.Sprintf("%s: object files may be inconsistent: %v", task, err))
	if n.config.Sound {
		if beepErr := n.beep(); beepErr != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(beepErr))
		}
	}
}

func (n *BuildNotifier) send(title, message string) {
	if err := n.notify(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
