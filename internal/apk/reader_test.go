package apk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dex-analysis/internal/testutil"
	apperrors "github.com/dex-analysis/pkg/errors"
)

func TestReadBlobs_ContainerOrder(t *testing.T) {
	dir := t.TempDir()
	first, second := testutil.SampleDex(), testutil.SecondDex()
	path := testutil.WriteAPK(t, dir, "app.apk",
		testutil.ZipEntry{Name: "AndroidManifest.xml", Data: []byte("<manifest/>")},
		testutil.ZipEntry{Name: "classes.dex", Data: first},
		testutil.ZipEntry{Name: "res/raw/notes.txt", Data: []byte("x")},
		testutil.ZipEntry{Name: "classes2.dex", Data: second, Store: true},
		testutil.ZipEntry{Name: "assets/plugin.dex", Data: first},
		testutil.ZipEntry{Name: "assets/with space.dex", Data: first},
	)

	blobs, err := ReadBlobs(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, blobs, 3)
	assert.Equal(t, "classes.dex", blobs[0].Path)
	assert.Equal(t, first, blobs[0].Data)
	assert.Equal(t, "classes2.dex", blobs[1].Path)
	assert.Equal(t, second, blobs[1].Data)
	assert.Equal(t, "assets/plugin.dex", blobs[2].Path)
}

func TestReadBlobs_BareDex(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "classes.dex", testutil.SampleDex())

	blobs, err := ReadBlobs(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, "classes.dex", blobs[0].Path)
}

func TestReadBlobs_ChecksumMismatch(t *testing.T) {
	first, second := testutil.SampleDex(), testutil.SecondDex()
	path := testutil.WriteAPK(t, t.TempDir(), "app.apk",
		testutil.ZipEntry{Name: "classes.dex", Data: first},
		testutil.ZipEntry{Name: "classes2.dex", Data: second, Store: true},
	)
	testutil.CorruptStoredEntry(t, path, second)

	blobs, err := ReadBlobs(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.NoError(t, blobs[0].Err)
	assert.Equal(t, first, blobs[0].Data)

	assert.Equal(t, "classes2.dex", blobs[1].Path)
	assert.Nil(t, blobs[1].Data)
	require.Error(t, blobs[1].Err)
	assert.ErrorIs(t, blobs[1].Err, apperrors.ErrUnreadableEntry)
	assert.True(t, apperrors.IsBlobError(blobs[1].Err))
	assert.Equal(t, "UnreadableEntry", apperrors.Kind(blobs[1].Err))
}

func TestReadBlobs_ContainerNotFound(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadBlobs(context.Background(), filepath.Join(dir, "missing.apk"))
	assert.ErrorIs(t, err, apperrors.ErrContainerNotFound)

	_, err = ReadBlobs(context.Background(), dir)
	assert.ErrorIs(t, err, apperrors.ErrContainerNotFound)

	garbage := testutil.WriteFile(t, dir, "garbage.apk", []byte("definitely not a zip"))
	_, err = ReadBlobs(context.Background(), garbage)
	assert.ErrorIs(t, err, apperrors.ErrContainerNotFound)
	assert.True(t, apperrors.IsContainerError(err))
}

func TestReadBlobs_NoDefinitionBlobs(t *testing.T) {
	path := testutil.WriteAPK(t, t.TempDir(), "empty.apk",
		testutil.ZipEntry{Name: "AndroidManifest.xml", Data: []byte("<manifest/>")},
		testutil.ZipEntry{Name: "classes.dex.bak", Data: []byte("dex\n")},
	)

	_, err := ReadBlobs(context.Background(), path)
	assert.ErrorIs(t, err, apperrors.ErrNoDefinitionBlobs)
	assert.Contains(t, err.Error(), "2 entries total")
}

func TestReadBlobs_Canceled(t *testing.T) {
	path := testutil.WriteAPK(t, t.TempDir(), "app.apk",
		testutil.ZipEntry{Name: "classes.dex", Data: testutil.SampleDex()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadBlobs(ctx, path)
	assert.ErrorIs(t, err, apperrors.ErrCanceled)
}

func TestReadBlobsFromReader(t *testing.T) {
	path := testutil.WriteAPK(t, t.TempDir(), "app.apk",
		testutil.ZipEntry{Name: "classes.dex", Data: testutil.SampleDex()})
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	blobs, err := ReadBlobsFromReader(context.Background(), "remote.apk", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, testutil.SampleDex(), blobs[0].Data)
}

func TestDexEntryPattern(t *testing.T) {
	for name, want := range map[string]bool{
		"classes.dex":         true,
		"classes12.dex":       true,
		"assets/a/b.dex":      true,
		".dex":                false,
		"classes.dex.bak":     false,
		"lib/arm64/libfoo.so": false,
		"with space.dex":      false,
	} {
		assert.Equal(t, want, dexEntry.MatchString(name), name)
	}
}
