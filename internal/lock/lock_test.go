package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestGuardBlocksSecondAcquire(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	g, err := Acquire(dbPath)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = g.Release() }()

	_, err = Acquire(dbPath)
	if err == nil {
		t.Fatal("second Acquire() should fail while the guard is held")
	}

	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", held.PID, os.Getpid())
	}
	if held.DBPath != dbPath {
		t.Errorf("DBPath = %q, want %q", held.DBPath, dbPath)
	}
	if !strings.Contains(err.Error(), dbPath) {
		t.Errorf("error %q does not name the database", err.Error())
	}
}

func TestGuardSidecarLivesNextToDatabase(t *testing.T) {
	// The parent directory does not exist yet; Acquire creates it, same as a
	// first run against a fresh cache path.
	dbPath := filepath.Join(t.TempDir(), "state", "cache.db")

	g, err := Acquire(dbPath)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	data, err := os.ReadFile(dbPath + ".lock")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("sidecar content = %q, want this PID", string(data))
	}

	if err := g.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(dbPath + ".lock"); !errors.Is(err, os.ErrNotExist) {
		t.Error("sidecar not removed on release")
	}

	// A fresh acquire succeeds once the guard is gone.
	g2, err := Acquire(dbPath)
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	_ = g2.Release()
}

func TestIndependentDatabasesDoNotContend(t *testing.T) {
	dir := t.TempDir()

	g1, err := Acquire(filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("Acquire(a.db) error = %v", err)
	}
	defer func() { _ = g1.Release() }()

	g2, err := Acquire(filepath.Join(dir, "b.db"))
	if err != nil {
		t.Fatalf("Acquire(b.db) error = %v", err)
	}
	defer func() { _ = g2.Release() }()
}

func TestReleaseNilAndIdempotent(t *testing.T) {
	var g *Guard
	if err := g.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	g, err := Acquire(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := g.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
