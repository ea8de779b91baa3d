// Package state records compile transactions per object directory so the
// CLI can refuse concurrent transactions on one output root and compute
// which sources were removed since the last commit.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
)

// ErrTransactionInProgress is returned by Begin when another live process
// runs a transaction on the same object directory
var ErrTransactionInProgress = errors.New("a compile transaction is already in progress")

// staleAfter is how long a heartbeat stays fresh
const staleAfter = 30 * time.Second

// TransactionRecord is the persistent state of one object directory
type TransactionRecord struct {
	ObjectDir     string                   `json:"objectDir"`
	TransactionID string                   `json:"transactionId,omitempty"`
	State         types.TransactionState   `json:"state"`
	Outcome       types.TransactionOutcome `json:"outcome,omitempty"`
	ProcessID     int                      `json:"processId"`
	Heartbeat     time.Time                `json:"heartbeat"`
	StartedAt     time.Time                `json:"startedAt"`
	Duration      time.Duration            `json:"duration,omitempty"`
	LastError     string                   `json:"lastError,omitempty"`
	// CommittedSources is the source set of the last committed transaction
	CommittedSources []string `json:"committedSources,omitempty"`
	// PendingSources were compiled by transactions that did not commit since
	PendingSources []string `json:"pendingSources,omitempty"`
	Transactions     int      `json:"transactions"`
	Rollbacks        int      `json:"rollbacks"`
}

// InProgress reports whether the record describes an unfinished transaction
func (r *TransactionRecord) InProgress() bool {
	return r.State != "" && !r.State.IsTerminal() && r.ProcessID != 0
}

// Manager handles persistent transaction records
type Manager struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	records        map[string]*TransactionRecord
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewManager creates a manager storing records under <projectRoot>/.objtx/state
func NewManager(projectRoot string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		stateDir: filepath.Join(projectRoot, ".objtx", "state"),
		logger:   log,
		records:  make(map[string]*TransactionRecord),
	}
}

// Key returns the record name of an object directory
func Key(objectDir string) string {
	if abs, err := filepath.Abs(objectDir); err == nil {
		objectDir = abs
	}
	return resolver.CompactMD5(filepath.ToSlash(objectDir))
}

// Begin marks a transaction on objectDir as started by this process
func (m *Manager) Begin(objectDir, transactionID string) (*TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(objectDir)
	record, err := m.load(key)
	if err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Ignoring unreadable transaction record",
			logger.WithField("objectDir", objectDir),
			logger.WithError(err))
	}
	if record == nil {
		record = &TransactionRecord{ObjectDir: objectDir}
	}

	if locked, pid := isHeldByOther(record); locked {
		return nil, fmt.Errorf("%w on %s (pid %d)", ErrTransactionInProgress, objectDir, pid)
	}
	if record.InProgress() {
		m.logger.Warn("Previous transaction did not finish",
			logger.WithField("transaction", record.TransactionID),
			logger.WithField("state", record.State))
	}

	now := time.Now()
	record.TransactionID = transactionID
	record.State = types.StateInit
	record.Outcome = ""
	record.ProcessID = os.Getpid()
	record.Heartbeat = now
	record.StartedAt = now
	record.Duration = 0
	record.LastError = ""

	if err := m.save(key, record); err != nil {
		return nil, err
	}
	m.records[key] = record
	return record, nil
}

// Finish records the outcome of the transaction begun on objectDir. On
// commit, current becomes the committed source set and pending sources are
// cleared; otherwise the compiled sources are added to the pending ones.
func (m *Manager) Finish(objectDir string, outcome types.TransactionOutcome, current, compiled []string, duration time.Duration, txErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(objectDir)
	record, ok := m.records[key]
	if !ok {
		return fmt.Errorf("no transaction begun on %s", objectDir)
	}

	record.Outcome = outcome
	record.ProcessID = 0
	record.Heartbeat = time.Now()
	record.Duration = duration
	record.Transactions++
	record.LastError = ""
	if txErr != nil {
		record.LastError = txErr.Error()
	}

	switch outcome {
	case types.OutcomeCommitted:
		record.State = types.StateCommitted
		record.CommittedSources = sortedCopy(current)
		record.PendingSources = nil
	case types.OutcomeRolledBack:
		record.State = types.StateRolledBack
		record.Rollbacks++
		record.PendingSources = union(record.PendingSources, compiled)
	default:
		record.State = types.StateInit
		record.PendingSources = union(record.PendingSources, compiled)
	}

	delete(m.records, key)
	return m.save(key, record)
}

// Read returns the record of objectDir, nil when there is none
func (m *Manager) Read(objectDir string) (*TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := Key(objectDir)
	if record, ok := m.records[key]; ok {
		return record, nil
	}
	record, err := m.load(key)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return record, err
}

// RemovedSources returns the sources of the last commit on objectDir that
// are not in current
func (m *Manager) RemovedSources(objectDir string, current []string) ([]string, error) {
	record, err := m.Read(objectDir)
	if err != nil || record == nil {
		return nil, err
	}

	present := make(map[string]bool, len(current))
	for _, source := range current {
		present[filepath.Clean(source)] = true
	}
	var removed []string
	for _, source := range record.CommittedSources {
		if !present[filepath.Clean(source)] {
			removed = append(removed, source)
		}
	}
	return removed, nil
}

// Discover returns every record in the state directory
func (m *Manager) Discover() ([]*TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files, err := os.ReadDir(m.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var records []*TransactionRecord
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		key := file.Name()[:len(file.Name())-len(".json")]
		record, err := m.load(key)
		if err != nil {
			m.logger.Warn("Failed to load state file",
				logger.WithField("file", file.Name()),
				logger.WithError(err))
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ObjectDir < records[j].ObjectDir })
	return records, nil
}

// Remove deletes the record of objectDir unless a live transaction holds it
func (m *Manager) Remove(objectDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(objectDir)
	if _, ok := m.records[key]; ok {
		return fmt.Errorf("%w on %s", ErrTransactionInProgress, objectDir)
	}
	record, err := m.load(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
	} else if locked, pid := isHeldByOther(record); locked {
		return fmt.Errorf("%w on %s (pid %d)", ErrTransactionInProgress, objectDir, pid)
	}

	if err := os.Remove(m.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// StartHeartbeat refreshes the heartbeat of running transactions every interval
func (m *Manager) StartHeartbeat(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heartbeatTimer != nil {
		return
	}
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	m.heartbeatStop = stop
	m.heartbeatTimer = ticker

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (m *Manager) StopHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.stateDir, key+".json")
}

func (m *Manager) load(key string) (*TransactionRecord, error) {
	data, err := os.ReadFile(m.path(key))
	if err != nil {
		return nil, err
	}
	var record TransactionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &record, nil
}

func (m *Manager) save(key string, record *TransactionRecord) error {
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateFile := m.path(key)
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func (m *Manager) updateHeartbeats() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, record := range m.records {
		record.Heartbeat = now
		if err := m.save(key, record); err != nil {
			m.logger.Debug("Failed to update heartbeat",
				logger.WithField("objectDir", record.ObjectDir),
				logger.WithError(err))
		}
	}
}

// isHeldByOther reports whether a live process other than this one owns record
func isHeldByOther(record *TransactionRecord) (bool, int) {
	if !record.InProgress() || record.ProcessID == os.Getpid() {
		return false, 0
	}
	if time.Since(record.Heartbeat) > staleAfter {
		return false, 0
	}
	process, err := os.FindProcess(record.ProcessID)
	if err != nil {
		return false, 0
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}
	return true, record.ProcessID
}

// union returns the sorted sources of a and b without duplicates
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, source := range list {
			if !seen[source] {
				seen[source] = true
				out = append(out, source)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sortedCopy(sources []string) []string {
	out := append([]string(nil), sources...)
	sort.Strings(out)
	return out
}
