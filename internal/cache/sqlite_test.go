package cache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSQLite(t *testing.T, maxEntries int) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLite(path, maxEntries, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSetGet(t *testing.T) {
	s := testSQLite(t, 10)

	s.Set("k", []byte("v"))
	got, ok := s.Get("k", time.Minute)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestSQLiteTTLExpiry(t *testing.T) {
	s := testSQLite(t, 10)
	base := time.Now()
	s.now = func() time.Time { return base }
	s.Set("k", []byte("v"))

	s.now = func() time.Time { return base.Add(time.Hour) }
	_, ok := s.Get("k", time.Minute)
	require.False(t, ok)
	require.Equal(t, 0, s.Len(), "expired entry must be removed on read")
}

func TestSQLiteVersionMismatchSelfHeals(t *testing.T) {
	s := testSQLite(t, 10)
	s.Set("k", []byte("v"))
	s.version = "next"

	_, ok := s.Get("k", time.Hour)
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestSQLiteEvictsOldestFifth(t *testing.T) {
	s := testSQLite(t, 10)
	base := time.Now()
	for i := 0; i < 10; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return tick }
		s.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	require.Equal(t, 10, s.Len())

	s.Set("k10", []byte("v"))
	require.Equal(t, 9, s.Len())

	_, ok := s.Get("k0", time.Hour)
	require.False(t, ok)
	_, ok = s.Get("k10", time.Hour)
	require.True(t, ok)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path, 10, zap.NewNop())
	require.NoError(t, err)
	s.Set("k", []byte("warm"))
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(path, 10, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, ok := s2.Get("k", time.Hour)
	require.True(t, ok)
	require.Equal(t, []byte("warm"), got)
}

func TestSQLiteAge(t *testing.T) {
	s := testSQLite(t, 10)
	base := time.Now()
	s.now = func() time.Time { return base }
	s.Set("k", []byte("v"))

	s.now = func() time.Time { return base.Add(3 * time.Second) }
	age, ok := s.Age("k")
	require.True(t, ok)
	require.InDelta(t, float64(3*time.Second), float64(age), float64(50*time.Millisecond))

	_, ok = s.Age("missing")
	require.False(t, ok)
}
