package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "sessions", "main", "LOCK")
}

func TestAcquireRecordsOwner(t *testing.T) {
	path := lockPath(t)
	before := time.Now().UTC().Add(-time.Second)

	l, err := Acquire(path, "main")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	owner, err := readOwner(path)
	if err != nil {
		t.Fatal(err)
	}
	if owner.PID != os.Getpid() || owner.Session != "main" {
		t.Errorf("owner = %+v", owner)
	}
	if owner.Since.Before(before) {
		t.Errorf("since = %v, want after %v", owner.Since, before)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	path := lockPath(t)

	l1, err := Acquire(path, "work")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(path, "work")
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want LockHeldError", err)
	}
	if held.Owner.PID != os.Getpid() || held.Owner.Session != "work" {
		t.Errorf("held owner = %+v", held.Owner)
	}
}

func TestHolder(t *testing.T) {
	path := lockPath(t)

	if _, held := Holder(path); held {
		t.Fatal("Holder() reported held before Acquire")
	}

	l, err := Acquire(path, "main")
	if err != nil {
		t.Fatal(err)
	}
	owner, held := Holder(path)
	if !held {
		t.Error("Holder() = not held, want held")
	}
	if owner.PID != os.Getpid() {
		t.Errorf("Holder() pid = %d, want %d", owner.PID, os.Getpid())
	}

	_ = l.Release()
	if _, held := Holder(path); held {
		t.Error("Holder() reported held after Release")
	}
}

func TestStaleFileIsNotHeld(t *testing.T) {
	path := lockPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("pid=999999\nsession=main\n"), 0600); err != nil {
		t.Fatal(err)
	}
	owner, held := Holder(path)
	if held {
		t.Error("stale lock file reported as held")
	}
	if owner.PID != 999999 {
		t.Errorf("pid = %d", owner.PID)
	}

	l, err := Acquire(path, "main")
	if err != nil {
		t.Fatalf("Acquire over stale file: %v", err)
	}
	_ = l.Release()
}

func TestReleaseIdempotent(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(lockPath(t), "main")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
