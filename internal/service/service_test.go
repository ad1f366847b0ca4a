package service

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dex-analysis/internal/mock"
	"github.com/dex-analysis/internal/storage"
	"github.com/dex-analysis/internal/testutil"
	"github.com/dex-analysis/pkg/config"
	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/model"
	"github.com/dex-analysis/pkg/utils"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Analysis.DataDir = filepath.Join(dir, "data")
	cfg.Analysis.MaxWorker = 2
	cfg.Storage.LocalPath = filepath.Join(dir, "storage")
	cfg.Database.Path = filepath.Join(dir, "data", "runs.db")
	return cfg
}

func sampleAPK(t *testing.T) string {
	t.Helper()
	return testutil.WriteAPK(t, t.TempDir(), "app.apk",
		testutil.ZipEntry{Name: "classes.dex", Data: testutil.SampleDex()},
		testutil.ZipEntry{Name: "classes2.dex", Data: testutil.SecondDex()},
	)
}

func newService(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithStdout(&out)}, opts...)
	svc, err := New(cfg, &utils.NullLogger{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, &out
}

func TestService_New(t *testing.T) {
	svc, err := New(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.NoError(t, svc.Close())
}

func TestRun_TextToStdout(t *testing.T) {
	svc, out := newService(t, testConfig(t))

	resp, err := svc.Run(context.Background(), Request{Input: sampleAPK(t), Format: "text", Sort: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Report)
	assert.NotEmpty(t, resp.Report.RunUUID)
	assert.Empty(t, resp.Report.Failures)
	assert.Nil(t, resp.Run)

	text := out.String()
	assert.Contains(t, text, " <TOTAL>\n")
	assert.Contains(t, text, " a.b.Foo\n")
	assert.Contains(t, text, " d.Main\n")
	assert.Contains(t, text, "# category application")
}

func TestRun_JSONFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Granularity = "package"
	svc, out := newService(t, cfg, WithClock(fixedClock{time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}))

	path := filepath.Join(t.TempDir(), "reports", "out.json")
	resp, err := svc.Run(context.Background(), Request{Input: sampleAPK(t), Format: "json", Output: path, RunUUID: "run-1"})
	require.NoError(t, err)
	assert.Zero(t, out.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rep model.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, "run-1", rep.RunUUID)
	assert.Equal(t, "package", rep.Granularity)
	assert.Equal(t, resp.Report.AttributedSize, rep.AttributedSize)
	assert.True(t, rep.GeneratedAt.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, rep.Root.Find("a.b"))
	assert.Equal(t, model.KindPackage, rep.Root.Find("a.b").Kind)
}

func TestRun_UploadAndPersist(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
	require.NoError(t, err)
	repo := &mock.MockRunRepository{}
	repo.ExpectSaveRun(42, nil)

	svc, _ := newService(t, cfg, WithStorage(store), WithRunRepository(repo))
	resp, err := svc.Run(context.Background(), Request{
		Input:   sampleAPK(t),
		Format:  "json.gz",
		Upload:  true,
		Persist: true,
		RunUUID: "run-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "reports/run-7/packages.json.gz", resp.ReportKey)
	assert.FileExists(t, store.GetURL(resp.ReportKey))
	require.NotNil(t, resp.Run)
	assert.Equal(t, int64(42), resp.Run.ID)
	assert.Equal(t, resp.ReportKey, resp.Run.ReportKey)
	assert.Equal(t, model.RunStatusCompleted, resp.Run.Status)
	assert.Equal(t, 2, resp.Run.BlobCount)
	repo.AssertExpectations(t)
}

func TestRun_UploadFailureFailsRun(t *testing.T) {
	store := &mock.MockStorage{}
	store.ExpectAnyUpload(apperrors.ErrStorageError)
	repo := &mock.MockRunRepository{}
	repo.ExpectSaveRun(1, nil).Maybe()

	svc, _ := newService(t, testConfig(t), WithStorage(store), WithRunRepository(repo))
	resp, err := svc.Run(context.Background(), Request{
		Input:   sampleAPK(t),
		Upload:  true,
		Persist: true,
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, apperrors.ErrStorageError)
	store.AssertExpectations(t)
}

func TestRun_FetchAndUploadWithMockStorage(t *testing.T) {
	cfg := testConfig(t)
	apk, err := os.ReadFile(sampleAPK(t))
	require.NoError(t, err)

	store := &mock.MockStorage{}
	store.ExpectFetch("uploads/app.apk", cfg.DownloadPath("uploads/app.apk"), true, func(local string) {
		require.NoError(t, os.WriteFile(local, apk, 0644))
	})
	store.ExpectReportUpload("run-3", ".json", "https://cdn.example.com/reports/run-3/packages.json", nil)

	svc, out := newService(t, cfg, WithStorage(store))
	resp, err := svc.Run(context.Background(), Request{
		Input:       "uploads/app.apk",
		FromStorage: true,
		Format:      "json",
		Upload:      true,
		RunUUID:     "run-3",
	})
	require.NoError(t, err)
	store.AssertExpectations(t)

	assert.Equal(t, "https://cdn.example.com/reports/run-3/packages.json", resp.ReportURL)
	uploaded := store.Uploaded["reports/run-3/packages.json"]
	assert.Equal(t, out.Bytes(), uploaded)

	var rep model.Report
	require.NoError(t, json.Unmarshal(uploaded, &rep))
	assert.Equal(t, "uploads/app.apk", rep.Container)
	assert.Equal(t, "run-3", rep.RunUUID)
}

func TestRun_MissingObjectWithMockStorage(t *testing.T) {
	cfg := testConfig(t)
	store := &mock.MockStorage{}
	store.ExpectFetch("uploads/gone.apk", cfg.DownloadPath("uploads/gone.apk"), false, nil)

	svc, _ := newService(t, cfg, WithStorage(store))
	_, err := svc.Run(context.Background(), Request{Input: "uploads/gone.apk", FromStorage: true})
	assert.ErrorIs(t, err, apperrors.ErrContainerNotFound)
	store.AssertNotCalled(t, "DownloadFile", testifymock.Anything, testifymock.Anything, testifymock.Anything)
}

func TestRun_PersistToSQLite(t *testing.T) {
	svc, _ := newService(t, testConfig(t))
	ctx := context.Background()

	broken := testutil.NewDexBuilder()
	broken.Class("x.Broken")
	data := broken.Build()
	data[0] = 'X'
	apk := testutil.WriteAPK(t, t.TempDir(), "app.apk",
		testutil.ZipEntry{Name: "classes.dex", Data: testutil.SampleDex()},
		testutil.ZipEntry{Name: "classes2.dex", Data: data},
	)

	resp, err := svc.Run(ctx, Request{Input: apk, Persist: true, RunUUID: "run-9"})
	require.NoError(t, err)
	require.Len(t, resp.Report.Failures, 1)

	runs, err := svc.ListRuns(ctx, model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0].UUID)
	assert.Equal(t, model.RunStatusPartial, runs[0].Status)

	run, err := svc.GetRun(ctx, "run-9")
	require.NoError(t, err)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "classes2.dex", run.Failures[0].Path)
	assert.Equal(t, "MalformedHeader", run.Failures[0].Kind)
}

func TestRun_FromStorage(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
	require.NoError(t, err)
	require.NoError(t, store.UploadFile(context.Background(), "uploads/app.apk", sampleAPK(t)))

	svc, out := newService(t, cfg, WithStorage(store))

	resp, err := svc.Run(context.Background(), Request{Input: "uploads/app.apk", FromStorage: true, Format: "folded"})
	require.NoError(t, err)
	assert.Equal(t, "uploads/app.apk", resp.Report.Container)
	assert.Contains(t, out.String(), "a;b;Foo ")
	assert.FileExists(t, cfg.DownloadPath("uploads/app.apk"))

	_, err = svc.Run(context.Background(), Request{Input: "uploads/missing.apk", FromStorage: true})
	assert.ErrorIs(t, err, apperrors.ErrContainerNotFound)
}

func TestRun_AnalyzerErrorStopsRun(t *testing.T) {
	a := &mock.MockAnalyzer{}
	a.ExpectAnalyze("/missing.apk", nil, apperrors.ErrContainerNotFound)
	repo := &mock.MockRunRepository{}

	svc, out := newService(t, testConfig(t), WithAnalyzer(a), WithRunRepository(repo))
	_, err := svc.Run(context.Background(), Request{Input: "/missing.apk", Persist: true})
	assert.True(t, apperrors.IsContainerError(err))
	assert.Zero(t, out.Len())
	repo.AssertNotCalled(t, "SaveRun")
	a.AssertExpectations(t)
}

func TestRun_InvalidRequest(t *testing.T) {
	svc, _ := newService(t, testConfig(t))

	_, err := svc.Run(context.Background(), Request{Input: sampleAPK(t), Format: "xml"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Run(context.Background(), Request{Input: sampleAPK(t), Granularity: "file"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRun_RulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classification.RulesFile = testutil.WriteFile(t, t.TempDir(), "rules.toml", []byte(`
default = "other"

[[rule]]
category = "mine"
prefixes = ["a."]
`))
	svc, _ := newService(t, cfg)

	resp, err := svc.Run(context.Background(), Request{Input: sampleAPK(t)})
	require.NoError(t, err)

	cats := map[string]uint64{}
	for _, c := range resp.Report.Categories {
		cats[c.Category] = c.Size
	}
	assert.Contains(t, cats, "mine")
	assert.Contains(t, cats, "other")
	assert.Equal(t, resp.Report.AttributedSize, cats["mine"]+cats["other"])
}
