package mock

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/dex-analysis/internal/storage"
)

// MockStorage is a mock implementation of storage.Storage. Upload drains its
// reader into Uploaded so tests can decode what was sent.
type MockStorage struct {
	mock.Mock

	mu       sync.Mutex
	Uploaded map[string][]byte
}

var _ storage.Storage = (*MockStorage)(nil)

// Upload mocks the Upload method.
func (m *MockStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.Uploaded == nil {
		m.Uploaded = make(map[string][]byte)
	}
	m.Uploaded[key] = data
	m.mu.Unlock()
	return m.Called(ctx, key, data).Error(0)
}

// UploadFile mocks the UploadFile method.
func (m *MockStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	return m.Called(ctx, key, localPath).Error(0)
}

// Download mocks the Download method.
func (m *MockStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// DownloadFile mocks the DownloadFile method.
func (m *MockStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	return m.Called(ctx, key, localPath).Error(0)
}

// Delete mocks the Delete method.
func (m *MockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// Exists mocks the Exists method.
func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// GetURL mocks the GetURL method.
func (m *MockStorage) GetURL(key string) string {
	return m.Called(key).String(0)
}

// ExpectReportUpload expects the report of runUUID to be uploaded and
// resolved to url.
func (m *MockStorage) ExpectReportUpload(runUUID, ext, url string, err error) *mock.Call {
	key := storage.ReportKey(runUUID, ext)
	if err == nil {
		m.On("GetURL", key).Return(url)
	}
	return m.On("Upload", mock.Anything, key, mock.Anything).Return(err)
}

// ExpectAnyUpload sets up an expectation for any Upload call.
func (m *MockStorage) ExpectAnyUpload(err error) *mock.Call {
	return m.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(err)
}

// ExpectFetch expects a container lookup for key. When ok, the download to
// localPath runs fetch to produce the file.
func (m *MockStorage) ExpectFetch(key, localPath string, ok bool, fetch func(localPath string)) {
	m.On("Exists", mock.Anything, key).Return(ok, nil)
	if !ok {
		return
	}
	m.On("DownloadFile", mock.Anything, key, localPath).
		Run(func(args mock.Arguments) {
			if fetch != nil {
				fetch(args.String(2))
			}
		}).
		Return(nil)
}
