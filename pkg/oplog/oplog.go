// Package oplog provides the operation listener used by the CLI: every
// operation's output goes to a log file in the task temporary directory,
// and the first failures are also shown on the console.
package oplog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nokeedev/objtx/pkg/logger"
)

// FileName is the log file written under the task temporary directory
const FileName = "output.txt"

// DefaultMaxFailures is how many failure outputs are echoed to the console
const DefaultMaxFailures = 10

// OperationLogger is an interfaces.OperationListener
type OperationLogger struct {
	logger      logger.Logger
	logPath     string
	maxFailures int

	mu        sync.Mutex
	file      *os.File
	successes int
	failures  int
	done      bool
	started   time.Time
}

// New creates an operation logger writing to <tempDir>/output.txt. The file
// is created on the first operation.
func New(tempDir string, log logger.Logger) *OperationLogger {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &OperationLogger{
		logger:      log,
		logPath:     filepath.Join(tempDir, FileName),
		maxFailures: DefaultMaxFailures,
		started:     time.Now(),
	}
}

// WithMaxFailures changes how many failure outputs reach the console
func (o *OperationLogger) WithMaxFailures(n int) *OperationLogger {
	o.maxFailures = n
	return o
}

// LogLocation returns the path of the log file
func (o *OperationLogger) LogLocation() string {
	return o.logPath
}

// OperationSuccess records a successful operation
func (o *OperationLogger) OperationSuccess(description string, output string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.successes++
	o.write(description+" successful.", output)
	o.logger.Debug(description, logger.WithField("status", "successful"))
}

// OperationFailed records a failed operation
func (o *OperationLogger) OperationFailed(description string, output string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.failures++
	o.write(description+" failed.", output)
	if o.failures <= o.maxFailures {
		msg := description + " failed."
		if trimmed := strings.TrimSpace(output); trimmed != "" {
			msg += "\n" + trimmed
		}
		o.logger.Error(msg)
	}
}

// Done closes the log file and prints a summary. Later calls do nothing.
func (o *OperationLogger) Done() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done {
		return
	}
	o.done = true

	if o.file != nil {
		if err := o.file.Close(); err != nil {
			o.logger.Debug("Failed to close operation log", logger.WithError(err))
		}
		o.file = nil
	}

	if hidden := o.failures - o.maxFailures; hidden > 0 {
		o.logger.Warn(fmt.Sprintf("...output for %d more failed operation(s) available in %s", hidden, o.logPath))
	}
	if o.successes+o.failures == 0 {
		return
	}
	o.logger.Info(fmt.Sprintf("Finished %d operation(s), see full log %s", o.successes+o.failures, o.logPath),
		logger.WithField("failed", o.failures),
		logger.WithField("duration", time.Since(o.started).Round(time.Millisecond)))
}

// Counts returns the number of successful and failed operations seen so far
func (o *OperationLogger) Counts() (successes, failures int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.successes, o.failures
}

// write appends an entry to the log file; the caller holds o.mu
func (o *OperationLogger) write(header, output string) {
	if o.done {
		return
	}
	if o.file == nil {
		if err := os.MkdirAll(filepath.Dir(o.logPath), 0755); err != nil {
			o.logger.Warn(fmt.Sprintf("Failed to create log directory: %v", err))
			return
		}
		file, err := os.OpenFile(o.logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			o.logger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
			return
		}
		o.file = file
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", header)
	if output != "" {
		b.WriteString(output)
		if !strings.HasSuffix(output, "\n") {
			b.WriteByte('\n')
		}
	}
	if _, err := o.file.WriteString(b.String()); err != nil {
		o.logger.Debug("Failed to write operation log", logger.WithError(err))
	}
}
