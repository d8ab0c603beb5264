// Package wal journals every run and action so a crashed apply can be
// audited and reconciled against the state store afterwards.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryRunStarted      EntryType = "run_started"
	EntryActionStarted   EntryType = "action_started"
	EntryActionCompleted EntryType = "action_completed"
	EntryRunCompleted    EntryType = "run_completed"
	EntryDriftDetected   EntryType = "drift_detected"
)

// Entry represents a single WAL entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

// Config controls file naming, rotation and retention.
type Config struct {
	// FilePrefix names the journal files: <prefix>-<timestamp>.wal
	FilePrefix string
	// MaxFileSize in bytes; the journal rotates once a file grows past it.
	MaxFileSize int64
	// KeepRotated bounds how many rotated files survive cleanup.
	// Zero keeps everything.
	KeepRotated int
}

// DefaultConfig returns the standard journal settings.
func DefaultConfig() Config {
	return Config{
		FilePrefix:  "stratus",
		MaxFileSize: 64 * 1024 * 1024,
		KeepRotated: 5,
	}
}

// WAL provides write-ahead logging for audit and recovery
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	size     int64
	dir      string
	config   Config
}

// Open creates or opens a WAL in the specified directory with defaults.
func Open(dir string) (*WAL, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig creates or opens a WAL with explicit settings.
func OpenWithConfig(dir string, config Config) (*WAL, error) {
	if config.FilePrefix == "" {
		config.FilePrefix = "stratus"
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{dir: dir, config: config}

	// Continue the sequence from whatever earlier files recorded.
	if err := w.loadSequence(); err != nil {
		return nil, err
	}
	if err := w.openNewFile(); err != nil {
		return nil, err
	}

	return w, nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, resourceID string, data interface{}) error {
	return w.append(entryType, resourceID, data, nil)
}

// AppendError adds an error entry to the WAL
func (w *WAL) AppendError(entryType EntryType, resourceID string, data interface{}, errToLog error) error {
	return w.append(entryType, resourceID, data, errToLog)
}

func (w *WAL) append(entryType EntryType, resourceID string, data interface{}, errToLog error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("WAL is closed")
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	w.sequence++
	entry := Entry{
		Timestamp:  time.Now().UTC(),
		Sequence:   w.sequence,
		Type:       entryType,
		ResourceID: resourceID,
		Data:       jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return w.writeEntry(entry)
}

// writeEntry writes a single entry, syncs it, and rotates if the file
// has outgrown its budget.
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}

	w.size += int64(len(line)) + 1
	if w.size >= w.config.MaxFileSize {
		return w.rotate()
	}
	return nil
}

// rotate closes the current file and starts a fresh one. Old rotated
// files beyond KeepRotated are discarded.
func (w *WAL) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close rotated file: %w", err)
	}
	if err := w.openNewFile(); err != nil {
		return err
	}
	if w.config.KeepRotated > 0 {
		if err := pruneRotated(w.dir, w.config.FilePrefix, w.config.KeepRotated+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *WAL) openNewFile() error {
	// Nanosecond timestamps keep names unique and lexically sorted.
	filename := fmt.Sprintf("%s-%s.wal", w.config.FilePrefix,
		time.Now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(w.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304 -- path is built from config
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	w.size = 0
	return nil
}

// loadSequence scans existing files for the highest sequence number.
func (w *WAL) loadSequence() error {
	files := listFiles(w.dir, w.config.FilePrefix)
	for _, path := range files {
		reader, err := NewReader(path)
		if err != nil {
			return err
		}
		for {
			entry, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				// A torn tail from a crash ends the scan; everything
				// before it already advanced the sequence.
				break
			}
			if entry.Sequence > w.sequence {
				w.sequence = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return nil
}

// listWALFiles returns all journal files for this WAL's prefix.
func (w *WAL) listWALFiles() []string {
	return listFiles(w.dir, w.config.FilePrefix)
}

func listFiles(dir, prefix string) []string {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.wal"))
	if err != nil {
		return nil
	}
	return files
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- path comes from our own directory listing
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays WAL entries recorded after a specific time, oldest
// file first.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	return ReplayPrefix(dir, DefaultConfig().FilePrefix, since, handler)
}

// ReplayPrefix replays entries for an explicit file prefix.
func ReplayPrefix(dir, prefix string, since time.Time, handler func(*Entry) error) error {
	for _, file := range listFiles(dir, prefix) {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
