// Package lock keeps two processes from sharing one cache database. SQLite
// tolerates concurrent readers, but two sync engines reconciling into the
// same cache would fight over eviction and schema versioning, so the first
// process takes an exclusive flock on a sidecar file next to the database
// and later ones fail fast.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockHeldError is returned when another process already guards the cache
// database.
type LockHeldError struct {
	PID    int
	DBPath string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("cache database %s is in use by PID %d", e.DBPath, e.PID)
}

// Guard is the acquired exclusive hold on a cache database.
type Guard struct {
	file   *os.File
	path   string
	dbPath string
}

// Acquire takes the exclusive guard for the cache database at dbPath,
// creating parent directories as needed. The sidecar lock file lives next to
// the database so relocating the cache relocates its guard with it.
func Acquire(dbPath string) (*Guard, error) {
	lockPath := dbPath + ".lock"

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open cache lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
		_ = f.Close()
		return nil, &LockHeldError{PID: pid, DBPath: dbPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Guard{file: f, path: lockPath, dbPath: dbPath}, nil
}

// DBPath returns the database this guard protects.
func (g *Guard) DBPath() string {
	return g.dbPath
}

// Release drops the guard and removes the sidecar file. Safe on a nil
// receiver and safe to call twice.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	_ = os.Remove(g.path)
	err := g.file.Close()
	g.file = nil
	return err
}
