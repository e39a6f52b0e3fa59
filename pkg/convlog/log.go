// Package convlog implements the durable, append-only conversation history.
// One JSON record per line; sequence numbers are strictly increasing and
// gap-free; a partially written trailing line from an unclean shutdown is
// discarded on open and during replay.
package convlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/m0ahs/openpoke/pkg/logger"
)

// Role tags who produced a conversation entry.
type Role string

const (
	RoleUser    Role = "user"    // inbound user turn
	RoleAgent   Role = "agent"   // execution-agent status report
	RoleReply   Role = "reply"   // assistant reply delivered to the user
	RoleSystem  Role = "system"  // orchestration notices (failures, acks)
	RoleTrigger Role = "trigger" // trigger-originated result
	RoleWait    Role = "wait"    // no-op marker, never surfaced to the user
)

// Entry is one immutable record in the log.
type Entry struct {
	Seq       int64     `json:"sequence"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
}

// Log is the single append path for conversation history. All appends are
// serialized through it, which is what gives the log its ordering guarantee
// even when agent work happens in parallel beforehand.
type Log struct {
	mu       sync.Mutex
	path     string
	lockPath string
	file     *os.File
	nextSeq  int64
}

// Open creates or opens the log at path. It acquires a lock file next to the
// log so that backup/rotation tooling in other processes can tell the append
// path is live, and truncates any partially written trailing line left by a
// crash.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("convlog: create dir: %w", err)
	}

	lockPath := path + ".lock"
	if err := acquireLock(lockPath); err != nil {
		return nil, err
	}

	nextSeq, err := repairAndScan(path)
	if err != nil {
		releaseLock(lockPath)
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		releaseLock(lockPath)
		return nil, fmt.Errorf("convlog: open: %w", err)
	}

	return &Log{
		path:     path,
		lockPath: lockPath,
		file:     file,
		nextSeq:  nextSeq,
	}, nil
}

// acquireLock creates the companion lock file. A stale lock (file exists but
// the writing process is gone) is detected by pid and taken over.
func acquireLock(lockPath string) error {
	pid := []byte(strconv.Itoa(os.Getpid()))
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		f.Write(pid)
		f.Close()
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("convlog: acquire lock: %w", err)
	}

	data, readErr := os.ReadFile(lockPath)
	if readErr == nil {
		if owner, convErr := strconv.Atoi(string(bytes.TrimSpace(data))); convErr == nil && processAlive(owner) {
			return fmt.Errorf("convlog: log at %s is held by pid %d", lockPath, owner)
		}
	}

	logger.WarnCF("convlog", "Taking over stale lock file", map[string]interface{}{"lock": lockPath})
	if err := os.WriteFile(lockPath, pid, 0644); err != nil {
		return fmt.Errorf("convlog: steal stale lock: %w", err)
	}
	return nil
}

func releaseLock(lockPath string) {
	os.Remove(lockPath)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

// repairAndScan walks the existing file, returns the next sequence number,
// and truncates trailing bytes after the last well-formed entry so the next
// append starts on a clean line boundary.
func repairAndScan(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("convlog: scan: %w", err)
	}

	var nextSeq int64 = 1
	goodEnd := 0
	offset := 0
	for offset < len(data) {
		nl := bytes.IndexByte(data[offset:], '\n')
		if nl < 0 {
			break // trailing partial line
		}
		line := data[offset : offset+nl]
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			break // corruption: everything from here on is discarded
		}
		nextSeq = entry.Seq + 1
		offset += nl + 1
		goodEnd = offset
	}

	if goodEnd < len(data) {
		logger.WarnCF("convlog", "Truncating trailing corruption",
			map[string]interface{}{"path": path, "discarded_bytes": len(data) - goodEnd})
		if err := os.Truncate(path, int64(goodEnd)); err != nil {
			return 0, fmt.Errorf("convlog: truncate: %w", err)
		}
	}

	return nextSeq, nil
}

// Append writes one entry and syncs it to disk. The returned entry carries
// the assigned sequence number and timestamp.
func (l *Log) Append(role Role, content, channel, chatID string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return Entry{}, fmt.Errorf("convlog: log is closed")
	}

	entry := Entry{
		Seq:       l.nextSeq,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Channel:   channel,
		ChatID:    chatID,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("convlog: marshal: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return Entry{}, fmt.Errorf("convlog: append: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("convlog: sync: %w", err)
	}

	l.nextSeq++
	return entry, nil
}

// Replay returns a lazy iterator over the log from the beginning. The
// iterator reads from its own handle, so replay and append can proceed
// concurrently. It stops at the first malformed line.
func (l *Log) Replay() (*Replayer, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Replayer{}, nil
		}
		return nil, fmt.Errorf("convlog: replay open: %w", err)
	}
	return &Replayer{
		file:    file,
		scanner: bufio.NewScanner(file),
	}, nil
}

// Entries reads the whole log eagerly. Convenience wrapper over Replay.
func (l *Log) Entries() ([]Entry, error) {
	r, err := l.Replay()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	for {
		entry, ok := r.Next()
		if !ok {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Tail returns up to n most recent entries.
func (l *Log) Tail(n int) ([]Entry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Clear removes every entry. The live file is swapped out by rename while
// the append mutex is held, so an append racing with a clear either lands
// before the swap (and is discarded with the old file) or after (into the
// fresh log); never into a half-cleared file. The lock file stays in place.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("convlog: log is closed")
	}

	if err := l.file.Close(); err != nil {
		logger.WarnCF("convlog", "Close before clear failed", map[string]interface{}{"error": err.Error()})
	}

	discarded := l.path + ".cleared"
	if err := os.Rename(l.path, discarded); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("convlog: clear rename: %w", err)
	}
	os.Remove(discarded)

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("convlog: reopen after clear: %w", err)
	}

	l.file = file
	l.nextSeq = 1
	logger.InfoC("convlog", "Conversation log cleared")
	return nil
}

// Close releases the append handle and the lock file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	releaseLock(l.lockPath)
	return err
}

// Replayer iterates entries in order. A zero Replayer yields nothing.
type Replayer struct {
	file    *os.File
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next well-formed entry. It returns ok=false at the end of
// the log or at the first malformed line, whichever comes first.
func (r *Replayer) Next() (Entry, bool) {
	if r.done || r.scanner == nil {
		return Entry{}, false
	}
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			r.done = true
			return Entry{}, false
		}
		return entry, true
	}
	r.done = true
	return Entry{}, false
}

func (r *Replayer) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
