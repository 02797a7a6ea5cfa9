// Package events keeps the append-only JSONL audit trail of violation queue
// transitions.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// Default maximum log file size (10MB)
	DefaultMaxLogSize = 10 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// Event types written by the violation queue.
const (
	EventDetected    = "violation_detected"
	EventClaimed     = "violation_claimed"
	EventResolved    = "violation_resolved"
	EventHeartbeat   = "violation_heartbeat"
	EventLeaseExpiry = "violation_lease_expired"

	EventClaimConflict = "violation_claim_conflict"
)

// LogEntry is one line of the audit log.
type LogEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	ViolationID  string         `json:"violation_id,omitempty"`
	RunID        string         `json:"run_id,omitempty"`
	FromStatus   string         `json:"from_status,omitempty"`
	ToStatus     string         `json:"to_status,omitempty"`
	StateVersion int64          `json:"state_version,omitempty"`
	Owner        string         `json:"owner,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Checksum     string         `json:"checksum,omitempty"`
}

// AuditLogger appends entries to a JSONL file and rotates it into
// archive/ once it exceeds maxSize. Several processes may append to the same
// file; each entry is written with a single O_APPEND write.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	enableChecksum  bool
	rotationCounter int
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}

	logger := &AuditLogger{
		logPath: logPath,
		maxSize: maxSize,
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := logger.openLogFile(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// WriteEntry appends entry and fsyncs the file.
func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if l.enableChecksum {
		entry.Checksum = calculateChecksum(entry)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close current log file: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	l.rotationCounter++
	baseName := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s",
		baseName,
		time.Now().Format("20060102_150405"),
		l.rotationCounter,
		LogFileExtension)

	// Another process may have rotated the file already.
	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to archive log file: %w", err)
	}

	if err := l.openLogFile(); err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}
	return nil
}

func calculateChecksum(entry *LogEntry) string {
	entryCopy := *entry
	entryCopy.Checksum = ""

	data, err := json.Marshal(entryCopy)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", simpleHash(data))
}

// simpleHash is djb2.
func simpleHash(data []byte) uint64 {
	var hash uint64 = 5381
	for _, b := range data {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return hash
}

func (l *AuditLogger) EnableChecksum(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableChecksum = enable
}

// ReadEntries decodes every well-formed line of the log at logPath.
// A missing file yields no entries.
func ReadEntries(logPath string) ([]LogEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read log file: %w", err)
	}
	return entries, nil
}

// VerifyLogIntegrity returns the number of entries and how many of them
// pass their checksum. Entries without a checksum count as valid.
func VerifyLogIntegrity(logPath string) (int, int, error) {
	entries, err := ReadEntries(logPath)
	if err != nil {
		return 0, 0, err
	}

	valid := 0
	for i := range entries {
		entry := entries[i]
		if entry.Checksum == "" {
			valid++
			continue
		}
		expected := entry.Checksum
		entry.Checksum = ""
		if calculateChecksum(&entry) == expected {
			valid++
		}
	}
	return len(entries), valid, nil
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return err
		}
		return l.file.Close()
	}
	return nil
}
