// Package history keeps a tamper-evident journal of update checks: one JSON
// line per event, each carrying the SHA-256 of the previous line.
package history

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("history")

// Event types.
const (
	EventCheckStarted    = "check_started"
	EventUpdateInstalled = "update_installed"
	EventUpToDate        = "up_to_date"
	EventCheckFinished   = "check_finished"
	EventCheckFailed     = "check_failed"
	EventCheckTimedOut   = "check_timed_out"
	EventLogRotated      = "log_rotated"
)

const genesis = "genesis"

// criticalEvents are synced to disk after writing.
var criticalEvents = map[string]bool{
	EventUpdateInstalled: true,
	EventCheckFailed:     true,
}

// Entry is one journal record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Source    string         `json:"source,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Journal appends entries to a JSONL file, rotating it at maxSize. The first
// entry of a rotated file is an EventLogRotated sentinel linking to the last
// entry of the previous file. A nil *Journal discards everything.
type Journal struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
}

// Open opens or creates the journal at path and continues its hash chain.
func Open(path string, maxSizeMB, maxBackups int) (*Journal, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	j := &Journal{
		filePath:   path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesis,
	}
	if last, err := lastHash(path); err != nil {
		log.Warn("could not read history tail, starting a new chain", "path", path, logging.KeyError, err)
	} else if last != "" {
		j.prevHash = last
	}

	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Record appends an entry. The chain only advances after a successful write,
// so a failed write leaves no gap.
func (j *Journal) Record(event, source string, details map[string]any) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Source:    source,
		Details:   details,
		PrevHash:  j.prevHash,
	}
	data, err := seal(&entry)
	if err != nil {
		log.Error("failed to encode history entry", logging.KeyError, err, "event", event)
		j.dropped.Add(1)
		return
	}

	if j.written+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			log.Error("history rotation failed", logging.KeyError, err)
			j.dropped.Add(1)
			return
		}
		entry.PrevHash = j.prevHash
		if data, err = seal(&entry); err != nil {
			j.dropped.Add(1)
			return
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		log.Error("failed to write history entry", logging.KeyError, err, "event", event)
		j.dropped.Add(1)
		return
	}
	j.written += int64(n)
	j.prevHash = entry.EntryHash

	if criticalEvents[event] {
		if err := j.file.Sync(); err != nil {
			log.Error("failed to sync history entry", logging.KeyError, err, "event", event)
		}
	}
}

// Close closes the journal file. Safe on a nil receiver.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// DroppedCount returns how many entries failed to write, or -1 for a nil
// journal.
func (j *Journal) DroppedCount() int64 {
	if j == nil {
		return -1
	}
	return j.dropped.Load()
}

// Path returns the journal file.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.filePath
}

// seal sets entry.EntryHash and returns the encoded line.
func seal(entry *Entry) ([]byte, error) {
	hash, err := computeHash(*entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// computeHash length-prefixes each field so that no two field combinations
// hash alike.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.Event, entry.Source, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		detailBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(detailBytes))
		h.Write(detailBytes)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (j *Journal) openFile() error {
	f, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat history: %w", err)
	}
	j.file = f
	j.written = info.Size()
	return nil
}

func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
	}

	for i := j.maxBackups; i >= 2; i-- {
		src, dst := j.backupName(i-1), j.backupName(i)
		if i == j.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove oldest history backup", "path", dst, logging.KeyError, err)
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to rename history backup", "src", src, "dst", dst, logging.KeyError, err)
		}
	}
	if err := os.Rename(j.filePath, j.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to rename current history", logging.KeyError, err)
	}

	if err := j.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     EventLogRotated,
		PrevHash:  j.prevHash,
		Details:   map[string]any{"previousFile": j.backupName(1)},
	}
	data, err := seal(&sentinel)
	if err != nil {
		return err
	}
	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write rotation sentinel: %w", err)
	}
	j.written += int64(n)
	j.prevHash = sentinel.EntryHash
	return nil
}

func (j *Journal) backupName(index int) string {
	if index == 0 {
		return j.filePath
	}
	return fmt.Sprintf("%s.%d", j.filePath, index)
}

// ReadFile returns the entries of one journal file in order.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}

func read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// ErrBrokenChain is returned by Verify for an entry that does not match its
// hash or does not link to the entry before it.
var ErrBrokenChain = errors.New("history chain is broken")

// Verify checks every entry's hash and its link to the previous entry. The
// first entry may link to anything, since it can continue a rotated file.
func Verify(entries []Entry) error {
	for i, e := range entries {
		want, err := computeHash(e)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if want != e.EntryHash {
			return fmt.Errorf("%w: entry %d (%s) hash mismatch", ErrBrokenChain, i, e.Event)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return fmt.Errorf("%w: entry %d (%s) does not link to entry %d", ErrBrokenChain, i, e.Event, i-1)
		}
	}
	return nil
}

// lastHash returns the hash of the last entry in path, or "" when the file
// does not exist or is empty.
func lastHash(path string) (string, error) {
	entries, err := ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].EntryHash, nil
}
