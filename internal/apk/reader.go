// Package apk extracts DEX blobs from an application package. An APK is a
// zip archive; every entry named like "classes.dex" or "assets/extra.dex"
// is returned, in archive order.
package apk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/klauspost/compress/zip"

	"github.com/dex-analysis/internal/dex"
	apperrors "github.com/dex-analysis/pkg/errors"
)

var dexEntry = regexp.MustCompile(`^\S+\.dex$`)

// maxBlobSize is the largest size a DEX header can declare.
const maxBlobSize = 1<<32 - 1

var dexMagic = []byte("dex\n")

// ReadBlobs reads every DEX blob of the container at path. A bare DEX file
// is accepted as a container holding one blob named after the file.
func ReadBlobs(ctx context.Context, path string) ([]dex.Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeContainerNotFound, fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeContainerNotFound, fmt.Sprintf("cannot stat %s", path), err)
	}
	if info.IsDir() {
		return nil, apperrors.Newf(apperrors.CodeContainerNotFound, "%s is a directory", path)
	}

	magic := make([]byte, len(dexMagic))
	if _, err := f.ReadAt(magic, 0); err == nil && bytes.Equal(magic, dexMagic) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeContainerNotFound, fmt.Sprintf("cannot read %s", path), err)
		}
		return []dex.Blob{{Path: filepath.Base(path), Data: data}}, nil
	}

	return ReadBlobsFromReader(ctx, path, f, info.Size())
}

// ReadBlobsFromReader reads the DEX blobs of a zip container held by r.
// name is used in error messages only. An entry that cannot be read, for
// example because its checksum does not match, is returned with Err set.
func ReadBlobsFromReader(ctx context.Context, name string, r io.ReaderAt, size int64) ([]dex.Blob, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeContainerNotFound, fmt.Sprintf("%s is not a readable zip container", name), err)
	}

	var blobs []dex.Blob
	for _, entry := range zr.File {
		if !dexEntry.MatchString(entry.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCanceled, "container read canceled", err)
		}
		data, err := readEntry(entry)
		if err != nil {
			blobs = append(blobs, dex.Blob{
				Path: entry.Name,
				Err:  apperrors.Wrap(apperrors.CodeUnreadableEntry, "cannot read entry: "+err.Error(), err),
			})
			continue
		}
		blobs = append(blobs, dex.Blob{Path: entry.Name, Data: data})
	}

	if len(blobs) == 0 {
		return nil, apperrors.Newf(apperrors.CodeNoDefinitionBlobs, "%s contains no dex entries (%d entries total)", name, len(zr.File))
	}
	return blobs, nil
}

// readEntry reads an entry to EOF so the zip reader verifies its CRC-32.
// The content must match the declared uncompressed size.
func readEntry(entry *zip.File) ([]byte, error) {
	size := entry.UncompressedSize64
	if size > maxBlobSize {
		return nil, fmt.Errorf("declared size %d exceeds the dex limit", size)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, int64(size)+1))
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != size {
		return nil, fmt.Errorf("entry holds %d bytes, declared %d", len(data), size)
	}
	return data, nil
}
