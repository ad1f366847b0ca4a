package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/dex-analysis/pkg/errors"
)

// LocalStorage implements Storage on a directory of the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "./storage"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to create storage directory", err)
	}

	return &LocalStorage{basePath: basePath}, nil
}

// Upload uploads data from reader to the specified key.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.getFullPath(key)
	if err != nil {
		return err
	}
	return writeFile(fullPath, reader, key)
}

// UploadFile uploads a local file to the specified key.
func (s *LocalStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.getFullPath(key)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return storageErr("open source for", key, err)
	}
	defer src.Close()

	return writeFile(fullPath, src, key)
}

// Download downloads data from the specified key.
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.getFullPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, storageErr("open", key, err)
	}
	return file, nil
}

// DownloadFile downloads data from the specified key to a local file.
func (s *LocalStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	src, err := s.Download(ctx, key)
	if err != nil {
		return err
	}
	defer src.Close()

	return writeFile(localPath, src, key)
}

// Delete deletes the object at the specified key. Deleting a missing key
// is not an error.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.getFullPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return storageErr("delete", key, err)
	}
	return nil
}

// Exists checks if an object exists at the specified key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fullPath, err := s.getFullPath(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storageErr("stat", key, err)
	}
	return !info.IsDir(), nil
}

// GetURL returns the file path for local storage. Invalid keys map to the
// base path.
func (s *LocalStorage) GetURL(key string) string {
	fullPath, err := s.getFullPath(key)
	if err != nil {
		return s.basePath
	}
	return fullPath
}

// GetBasePath returns the base path for the local storage.
func (s *LocalStorage) GetBasePath() string {
	return s.basePath
}

func (s *LocalStorage) getFullPath(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(k)), nil
}

// writeFile copies r into dst, creating parent directories. A failed copy
// removes the partial file.
func writeFile(dst string, r io.Reader, key string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return storageErr("create directory for", key, err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return storageErr("create", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return storageErr("write", key, err)
	}
	if err := f.Close(); err != nil {
		return storageErr("close", key, err)
	}
	return nil
}
