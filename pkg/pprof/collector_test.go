package pprof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfileTypes(), types)

	types, err = ParseProfileTypes(" CPU, heap ,cpu,goroutine")
	require.NoError(t, err)
	assert.Equal(t, []ProfileType{ProfileCPU, ProfileHeap, ProfileGoroutine}, types)

	_, err = ParseProfileTypes("cpu,trace")
	assert.Error(t, err)
}

func TestCollector_StartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pprof")
	c := NewCollector(dir, []ProfileType{ProfileCPU, ProfileHeap, ProfileGoroutine, ProfileMutex})

	require.NoError(t, c.Start())
	assert.Error(t, c.Start())

	files, err := c.Stop()
	require.NoError(t, err)
	require.Len(t, files, 4)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), f)
		assert.Equal(t, dir, filepath.Dir(f))
	}
	assert.Contains(t, filepath.Base(files[0]), "cpu_")

	files, err = c.Stop()
	assert.NoError(t, err)
	assert.Empty(t, files)
}

func TestCollector_NoCPU(t *testing.T) {
	c := NewCollector(t.TempDir(), []ProfileType{ProfileAllocs})
	require.NoError(t, c.Start())
	files, err := c.Stop()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, filepath.Base(files[0]), "allocs_")
}
