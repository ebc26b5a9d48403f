// Package lockfile keeps two ReplyPipe processes from sharing one state
// directory, which holds the SQLite session database and the whatsmeow
// device store.
//
// The lock is an flock on a file in the state directory; the kernel drops it
// when the process exits, however it exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "replypipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory if
// needed. It fails immediately with a *LockError when another process holds
// the lock.
func Acquire(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's pid before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile.Acquire: state directory already locked", "lock_path", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(f *os.File, info string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("lockfile.Release: close failed", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: remove failed", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError reports a state directory held by another process.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another ReplyPipe instance is using this state directory (lock file %s", e.LockPath)
	if e.Holder != "" {
		msg += ", held by " + e.Holder
	}
	return msg + "); stop it or point REPLYPIPE_STATE_DIR elsewhere"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the process recorded in an existing lock file.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("PID %d (running)", pid)
	}
	return fmt.Sprintf("PID %d (not running)", pid)
}

// parsePID extracts the value of the "pid=" line, or 0.
func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil {
			return pid
		}
	}
	return 0
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
