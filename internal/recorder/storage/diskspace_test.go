package storage

import (
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFreeSpace(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip("free space query not supported")
	}

	// directory need not exist yet
	dir := filepath.Join(t.TempDir(), "not", "yet")

	free, err := FreeBytes(dir)
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))

	assert.NoError(t, CheckFreeSpace(dir, 0))
	assert.NoError(t, CheckFreeSpace(dir, 1))
	assert.ErrorIs(t, CheckFreeSpace(dir, math.MaxUint64), ErrInsufficientSpace)
}
