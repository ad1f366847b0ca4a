// Package service wires configuration, storage, persistence and the
// analyzer into one breakdown run.
package service

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dex-analysis/internal/analyzer"
	"github.com/dex-analysis/internal/attribution"
	"github.com/dex-analysis/internal/report"
	"github.com/dex-analysis/internal/repository"
	"github.com/dex-analysis/internal/storage"
	"github.com/dex-analysis/pkg/config"
	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/filter"
	"github.com/dex-analysis/pkg/model"
	"github.com/dex-analysis/pkg/telemetry"
	"github.com/dex-analysis/pkg/utils"
)

// Analyzer runs the breakdown over one container.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*analyzer.Result, error)
}

// Request describes one run.
type Request struct {
	// Input is a local path, or a storage key when FromStorage is set.
	Input       string
	FromStorage bool

	Granularity string
	Format      string
	Sort        bool
	MaxDepth    int
	MinSize     uint64

	// Output is the report file; empty writes to the service's stdout.
	Output  string
	Upload  bool
	Persist bool

	// RunUUID identifies the run; one is generated when empty.
	RunUUID string
}

// Response is the outcome of Run.
type Response struct {
	Report    *model.Report
	Run       *model.Run
	ReportKey string
	ReportURL string
}

// Option customizes a Service.
type Option func(*Service)

// WithStorage injects the object storage instead of building it from config.
func WithStorage(s storage.Storage) Option {
	return func(svc *Service) { svc.storage = s }
}

// WithRunRepository injects run persistence instead of opening the
// configured database.
func WithRunRepository(r repository.RunRepository) Option {
	return func(svc *Service) { svc.runs = r }
}

// WithAnalyzer replaces the analyzer built per request.
func WithAnalyzer(a Analyzer) Option {
	return func(svc *Service) { svc.analyzer = a }
}

// WithStdout sets where reports go when a request has no Output.
func WithStdout(w io.Writer) Option {
	return func(svc *Service) { svc.stdout = w }
}

// WithClock sets the clock used for timestamps.
func WithClock(c utils.Clock) Option {
	return func(svc *Service) { svc.clock = c }
}

// Service is the main application service.
type Service struct {
	config   *config.Config
	logger   utils.Logger
	storage  storage.Storage
	runs     repository.RunRepository
	repos    *repository.Repositories
	analyzer Analyzer
	filter   *filter.ClassFilter
	stdout   io.Writer
	clock    utils.Clock
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	s := &Service{
		config: cfg,
		logger: logger,
		stdout: os.Stdout,
		clock:  utils.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database connection if one was opened.
func (s *Service) Close() error {
	if s.repos != nil {
		return s.repos.Close()
	}
	return nil
}

// Storage returns the object storage, building it from config on first use.
func (s *Service) Storage() (storage.Storage, error) {
	if s.storage != nil {
		return s.storage, nil
	}
	s.logger.Debug("Initializing storage (%s)", s.config.Storage.Type)
	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return nil, err
	}
	s.storage = store
	return store, nil
}

// Runs returns run persistence, opening the configured database on first
// use.
func (s *Service) Runs(ctx context.Context) (repository.RunRepository, error) {
	if s.runs != nil {
		return s.runs, nil
	}
	s.logger.Debug("Connecting to database (%s, access=%s)", s.config.Database.Type, s.config.Database.Access)
	db, err := repository.NewGormDB(&s.config.Database, repository.Options{Tracing: telemetry.Enabled()})
	if err != nil {
		return nil, err
	}
	repos, err := repository.NewRepositories(ctx, db, s.config.Database.Access)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	s.repos = repos
	s.runs = repos.Runs
	return s.runs, nil
}

// ListRuns returns persisted runs, newest first.
func (s *Service) ListRuns(ctx context.Context, f model.RunFilter) ([]*model.Run, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return nil, err
	}
	return runs.ListRuns(ctx, f)
}

// GetRun returns one persisted run.
func (s *Service) GetRun(ctx context.Context, uuid string) (*model.Run, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return nil, err
	}
	return runs.GetRunByUUID(ctx, uuid)
}

// Run executes one breakdown: fetch, analyze, render, then optionally
// upload and persist. Blob failures do not fail the run; they are listed in
// the report.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	begin := s.clock.Now()
	if req.RunUUID == "" {
		req.RunUUID = uuid.NewString()
	}
	if req.Format == "" {
		req.Format = s.config.Report.Format
	}
	w, err := report.NewWriter(req.Format)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithField("run", req.RunUUID)

	path, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	a, err := s.analyzerFor(req)
	if err != nil {
		return nil, err
	}
	res, err := a.Analyze(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failures {
		logger.Warn("Excluded %s: %s", f.Path, f.Kind)
	}

	cf, err := s.classFilter()
	if err != nil {
		return nil, err
	}

	rep := report.Assemble(report.Input{
		RunUUID:     req.RunUUID,
		Container:   req.Input,
		Granularity: string(res.Granularity),
		Tree:        res.Tree,
		Blobs:       res.Blobs,
		Failures:    res.Failures,
		TotalSize:   res.TotalSize,
		Options:     report.Options{Sort: req.Sort, MaxDepth: req.MaxDepth, MinSize: req.MinSize},
		Filter:      cf,
		GeneratedAt: s.clock.Now(),
	})

	var buf bytes.Buffer
	if err := w.Write(rep, &buf); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to render report", err)
	}
	if err := s.emit(req.Output, buf.Bytes()); err != nil {
		return nil, err
	}

	resp := &Response{Report: rep}
	if req.Upload {
		resp.ReportKey = storage.ReportKey(req.RunUUID, report.Extension(req.Format))
	}

	// Upload and persist are independent; the run record only needs the key.
	g, gctx := errgroup.WithContext(ctx)
	if req.Upload {
		g.Go(func() error {
			url, err := s.upload(gctx, resp.ReportKey, buf.Bytes())
			if err != nil {
				return err
			}
			resp.ReportURL = url
			logger.Info("Uploaded report to %s", url)
			return nil
		})
	}
	if req.Persist {
		run := model.NewRun(rep, s.config.Analysis.Version, s.clock.Now().Sub(begin))
		run.ReportKey = resp.ReportKey
		g.Go(func() error {
			runs, err := s.Runs(gctx)
			if err != nil {
				return err
			}
			if err := runs.SaveRun(gctx, run); err != nil {
				return err
			}
			resp.Run = run
			logger.Info("Saved run %d", run.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Breakdown of %s: %d of %d bytes attributed, %d blobs failed",
		req.Input, rep.AttributedSize, rep.TotalSize, len(rep.Failures))
	return resp, nil
}

func (s *Service) upload(ctx context.Context, key string, data []byte) (string, error) {
	store, err := s.Storage()
	if err != nil {
		return "", err
	}
	if err := store.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return store.GetURL(key), nil
}

// fetch returns the local path of the container, downloading it first when
// it lives in storage.
func (s *Service) fetch(ctx context.Context, req Request) (string, error) {
	if !req.FromStorage {
		return req.Input, nil
	}

	store, err := s.Storage()
	if err != nil {
		return "", err
	}
	ok, err := store.Exists(ctx, req.Input)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.Newf(apperrors.CodeContainerNotFound, "no object %q in storage", req.Input)
	}

	if err := s.config.EnsureDataDir(); err != nil {
		return "", apperrors.Wrap(apperrors.CodeStorageError, "failed to prepare download dir", err)
	}
	local := s.config.DownloadPath(req.Input)
	if err := store.DownloadFile(ctx, req.Input, local); err != nil {
		return "", err
	}
	s.logger.Debug("Downloaded %s to %s", req.Input, local)
	return local, nil
}

func (s *Service) analyzerFor(req Request) (Analyzer, error) {
	if s.analyzer != nil {
		return s.analyzer, nil
	}

	gran := req.Granularity
	if gran == "" {
		gran = s.config.Analysis.Granularity
	}
	g, err := attribution.ParseGranularity(gran)
	if err != nil {
		return nil, err
	}
	policy, err := attribution.PolicyByName(s.config.Analysis.SharedEntryPolicy)
	if err != nil {
		return nil, err
	}
	mode, err := attribution.ParseMethodSharedMode(s.config.Analysis.MethodSharedEntries)
	if err != nil {
		return nil, err
	}

	return analyzer.New(&analyzer.Config{
		Granularity:         g,
		Policy:              policy,
		MethodSharedEntries: mode,
		MaxWorkers:          s.config.Analysis.MaxWorker,
		Logger:              s.logger,
		Clock:               s.clock,
	}), nil
}

func (s *Service) classFilter() (*filter.ClassFilter, error) {
	if s.filter != nil {
		return s.filter, nil
	}

	var rules *filter.Rules
	if path := s.config.Classification.RulesFile; path != "" {
		r, err := filter.LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = r
	}
	cf, err := filter.NewClassFilter(rules)
	if err != nil {
		return nil, err
	}
	s.filter = cf
	return cf, nil
}

// emit writes the rendered report to path, or to stdout when path is empty
// or "-".
func (s *Service) emit(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := s.stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "failed to create output directory", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "failed to write report", err)
	}
	return nil
}
