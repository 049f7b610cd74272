package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Verify lock file exists and contains PID.
	data, err := os.ReadFile(filepath.Join(tmpDir, FileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("lock file is empty")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir)
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", lockErr.PID, os.Getpid())
	}
	if !errors.Is(err, ErrHeld) {
		t.Error("LockHeldError does not match ErrHeld")
	}
}

func TestReadOwner(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	owner, err := ReadOwner(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if owner.PID != os.Getpid() || owner.Acquired.IsZero() {
		t.Errorf("owner = %+v", owner)
	}
	if l.Path() != filepath.Join(tmpDir, FileName) {
		t.Errorf("Path() = %q", l.Path())
	}
}

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantPID int
	}{
		{"complete", "pid=42\ntime=2025-03-01T12:00:00Z\n", 42},
		{"pid only", "pid=7", 7},
		{"garbage", "hello", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOwner(tt.content).PID; got != tt.wantPID {
				t.Errorf("PID = %d, want %d", got, tt.wantPID)
			}
		})
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
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
