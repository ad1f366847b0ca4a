package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/dex-analysis/pkg/config"
	apperrors "github.com/dex-analysis/pkg/errors"
)

const (
	defaultCOSDomain = "myqcloud.com"
	defaultCOSScheme = "https"
)

// COSStorage implements Storage on a Tencent Cloud COS bucket.
type COSStorage struct {
	client    *cos.Client
	bucketURL *url.URL
}

// NewCOSStorage creates a client for the bucket named in cfg. Type is not
// consulted.
func NewCOSStorage(cfg *config.StorageConfig) (*COSStorage, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}
	if err := validateCOS(cfg); err != nil {
		return nil, err
	}

	bucketURL, serviceURL, err := cosURLs(cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid COS endpoint", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL, ServiceURL: serviceURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSStorage{client: client, bucketURL: bucketURL}, nil
}

// cosURLs returns the bucket and service endpoints,
// <scheme>://<bucket>.cos.<region>.<domain> and <scheme>://cos.<region>.<domain>.
func cosURLs(cfg *config.StorageConfig) (*url.URL, *url.URL, error) {
	domain, scheme := cfg.Domain, cfg.Scheme
	if domain == "" {
		domain = defaultCOSDomain
	}
	if scheme == "" {
		scheme = defaultCOSScheme
	}
	bucketURL, err := url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain))
	if err != nil {
		return nil, nil, err
	}
	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, nil, err
	}
	return bucketURL, serviceURL, nil
}

// object cleans key, runs fn with it and maps SDK errors.
func (s *COSStorage) object(op, key string, fn func(k string) error) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := fn(k); err != nil {
		if cos.IsNotFoundError(err) {
			return notFound(key)
		}
		return storageErr(op, key, err)
	}
	return nil
}

// Upload stores reader under key with a content type taken from the key's
// extension.
func (s *COSStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	return s.object("upload", key, func(k string) error {
		opt := &cos.ObjectPutOptions{
			ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: contentType(k)},
		}
		_, err := s.client.Object.Put(ctx, k, reader, opt)
		return err
	})
}

func (s *COSStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	return s.object("upload file", key, func(k string) error {
		_, err := s.client.Object.PutFromFile(ctx, k, localPath, nil)
		return err
	})
}

func (s *COSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.object("download", key, func(k string) error {
		resp, err := s.client.Object.Get(ctx, k, nil)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	return body, err
}

// DownloadFile fetches key into localPath, creating parent directories.
func (s *COSStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return storageErr("create directory for", key, err)
	}
	return s.object("download file", key, func(k string) error {
		_, err := s.client.Object.GetToFile(ctx, k, localPath, nil)
		return err
	})
}

func (s *COSStorage) Delete(ctx context.Context, key string) error {
	return s.object("delete", key, func(k string) error {
		_, err := s.client.Object.Delete(ctx, k, nil)
		return err
	})
}

func (s *COSStorage) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.object("check", key, func(k string) error {
		var err error
		ok, err = s.client.Object.IsExist(ctx, k)
		return err
	})
	return ok, err
}

// GetURL returns the object URL. It is only reachable anonymously when the
// bucket allows public reads.
func (s *COSStorage) GetURL(key string) string {
	k, err := cleanKey(key)
	if err != nil {
		return s.bucketURL.String()
	}
	return s.bucketURL.JoinPath(k).String()
}

// contentType picks the object content type from the report extension.
func contentType(key string) string {
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	case ".apk", ".zip":
		return "application/zip"
	default:
		return "text/plain; charset=utf-8"
	}
}
