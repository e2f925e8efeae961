package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRotatorRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	r, err := NewLogRotator(path, 10, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	_, err = r.Write([]byte("12345678\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("abcdefgh\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh\n", string(data))

	backups, err := r.backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasPrefix(backups[0].Name(), "app.20260101-000001"))
}

func TestLogRotatorKeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	r, err := NewLogRotator(path, 4, 2, 0)
	require.NoError(t, err)
	defer r.Close()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 5; i++ {
		_, err := r.Write([]byte("line"))
		require.NoError(t, err)
	}

	backups, err := r.backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestLogRotatorRequiresPath(t *testing.T) {
	_, err := NewLogRotator("", 10, 1, 0)
	assert.Error(t, err)
}
