// Package storage provides object storage for containers fetched by key and
// for rendered breakdown reports.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/dex-analysis/pkg/config"
	apperrors "github.com/dex-analysis/pkg/errors"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download downloads data from the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFile downloads data from the specified key to a local file.
	DownloadFile(ctx context.Context, key string, localPath string) error

	// Delete deletes the object at the specified key.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// ReportPrefix is where rendered reports are uploaded.
const ReportPrefix = "reports"

// ReportKey returns the object key for a run's report, e.g.
// "reports/<uuid>/packages.json.gz".
func ReportKey(runUUID, ext string) string {
	return path.Join(ReportPrefix, runUUID, "packages"+ext)
}

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(cfg)
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		return validateCOS(cfg)
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return apperrors.New(apperrors.CodeConfigError, "local storage path is required")
		}
		return nil
	}
	return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", cfg.Type)
}

func validateCOS(cfg *config.StorageConfig) error {
	switch {
	case cfg.Bucket == "":
		return apperrors.New(apperrors.CodeConfigError, "COS bucket is required")
	case cfg.Region == "":
		return apperrors.New(apperrors.CodeConfigError, "COS region is required")
	case cfg.SecretID == "" || cfg.SecretKey == "":
		return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
	}
	return nil
}

// cleanKey normalizes a key to a slash-separated relative path and rejects
// keys that would leave the bucket root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." || strings.Contains(key, "..") {
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "invalid storage key %q", key)
	}
	return k, nil
}

func notFound(key string) error {
	return apperrors.Newf(apperrors.CodeStorageError, "file not found: %s", key)
}

func storageErr(op, key string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageError, op+" "+key, err)
}
