// Package lock guards a session directory so only one daemon serves it.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Owner is what a daemon records in the lock file it holds.
type Owner struct {
	PID     int
	Session string
	Since   time.Time
}

// LockHeldError is returned when another live daemon holds the lock.
type LockHeldError struct {
	Owner Owner
	Path  string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("teamsyncd already running for session %q (PID %d, %s)", e.Owner.Session, e.Owner.PID, e.Path)
}

// Lock is a held flock on a lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock at path for session, creating parent directories.
func Acquire(path, session string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		owner, _ := readOwner(path)
		return nil, &LockHeldError{Owner: owner, Path: path}
	}

	owner := Owner{PID: os.Getpid(), Session: session, Since: time.Now().UTC()}
	if err := writeOwner(f, owner); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the file. Nil and repeated calls are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Holder reports who recorded themselves in the lock file at path and
// whether that lock is still held.
func Holder(path string) (Owner, bool) {
	owner, err := readOwner(path)
	if err != nil {
		return Owner{}, false
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return owner, false
	}
	defer func() { _ = f.Close() }()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return owner, errors.Is(err, syscall.EWOULDBLOCK)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return owner, false
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nsession=%s\ntime=%s\n", o.PID, o.Session, o.Since.Format(time.RFC3339))
	return err
}

func readOwner(path string) (Owner, error) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, err
	}
	defer func() { _ = f.Close() }()

	var o Owner
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(val)
		case "session":
			o.Session = val
		case "time":
			o.Since, _ = time.Parse(time.RFC3339, val)
		}
	}
	return o, sc.Err()
}
