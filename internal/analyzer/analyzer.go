// Package analyzer runs the breakdown pipeline over a container: read the
// DEX blobs, parse and attribute each on a worker pool, and merge the
// records into one package tree in container order.
package analyzer

import (
	"context"
	"errors"

	"github.com/dex-analysis/internal/apk"
	"github.com/dex-analysis/internal/attribution"
	"github.com/dex-analysis/internal/dex"
	"github.com/dex-analysis/internal/packagetree"
	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/model"
	"github.com/dex-analysis/pkg/parallel"
	"github.com/dex-analysis/pkg/telemetry"
	"github.com/dex-analysis/pkg/utils"
)

// Config holds analyzer configuration.
type Config struct {
	Granularity         attribution.Granularity
	Policy              attribution.SharePolicy
	MethodSharedEntries attribution.MethodSharedMode

	// MaxWorkers bounds how many blobs are processed at once.
	MaxWorkers int

	// Logger is used for progress logging. If nil, logs are suppressed.
	Logger utils.Logger

	// Clock times phases; nil means the real clock.
	Clock utils.Clock
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Granularity:         attribution.GranularityClass,
		Policy:              attribution.FirstOwner{},
		MethodSharedEntries: attribution.MethodSharedFirstOwner,
		MaxWorkers:          parallel.DefaultPoolConfig().MaxWorkers,
	}
}

// Result is the outcome of one run.
type Result struct {
	Container   string
	Granularity attribution.Granularity
	Tree        *packagetree.Tree
	// Failures lists blobs excluded from the tree, in container order.
	Failures []model.BlobFailure
	Blobs    []model.BlobSummary
	// TotalSize is the size of every blob, failed ones included.
	TotalSize      uint64
	AttributedSize uint64
	Phases         []utils.Phase
}

// Analyzer runs the pipeline. It is safe for concurrent use.
type Analyzer struct {
	config     *Config
	attributor *attribution.Attributor
	logger     utils.Logger
}

// New creates an analyzer.
func New(config *Config) *Analyzer {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Analyzer{
		config: config,
		attributor: attribution.NewAttributor(attribution.Options{
			Granularity:         config.Granularity,
			Policy:              config.Policy,
			MethodSharedEntries: config.MethodSharedEntries,
		}),
		logger: logger,
	}
}

// Analyze reads the container at path and analyzes its blobs. Container
// errors abort the run; blob errors become Failures.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*Result, error) {
	ctx, span := telemetry.StartRun(ctx, path, string(a.attributor.Granularity()))
	sw := utils.NewStopwatch(a.config.Clock)

	stop := sw.Start("read")
	blobs, err := apk.ReadBlobs(ctx, path)
	stop()
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	a.logger.Info("Read %d dex blobs from %s", len(blobs), path)

	res, err := a.run(ctx, path, blobs, sw)
	span.SetAttributes(telemetry.AttrBlobCount.Int(len(blobs)))
	if res != nil {
		span.SetAttributes(telemetry.AttrFailures.Int(len(res.Failures)))
	}
	telemetry.End(span, err)
	return res, err
}

// AnalyzeBlobs analyzes blobs that were already extracted; name labels the
// container in the result.
func (a *Analyzer) AnalyzeBlobs(ctx context.Context, name string, blobs []dex.Blob) (*Result, error) {
	ctx, span := telemetry.StartRun(ctx, name, string(a.attributor.Granularity()))
	res, err := a.run(ctx, name, blobs, utils.NewStopwatch(a.config.Clock))
	telemetry.End(span, err)
	return res, err
}

// blobOutcome is what one worker hands back for merging.
type blobOutcome struct {
	records []attribution.SizeRecord
	summary model.BlobSummary
}

// run processes blobs on the worker pool and commits them in order. When
// ctx ends first it returns the partial result together with a Canceled
// error; only blobs that completed are in the tree.
func (a *Analyzer) run(ctx context.Context, name string, blobs []dex.Blob, sw *utils.Stopwatch) (*Result, error) {
	res := &Result{
		Container:   name,
		Granularity: a.attributor.Granularity(),
		Tree:        packagetree.New(a.attributor.Granularity()),
	}
	for _, b := range blobs {
		res.TotalSize += uint64(len(b.Data))
	}

	pool := parallel.NewWorkerPool[dex.Blob, *blobOutcome](
		parallel.DefaultPoolConfig().WithWorkers(a.config.MaxWorkers).WithMetrics())
	pool.ExecuteOrdered(ctx, blobs,
		func(ctx context.Context, blob dex.Blob) (*blobOutcome, error) {
			return a.processBlob(ctx, blob, sw)
		},
		func(r parallel.TaskResult[dex.Blob, *blobOutcome]) {
			if r.Error != nil {
				if errors.Is(r.Error, apperrors.ErrCanceled) {
					return
				}
				kind := apperrors.Kind(r.Error)
				a.logger.Warn("Skipping %s: %s: %v", r.Input.Path, kind, r.Error)
				res.Failures = append(res.Failures, model.BlobFailure{
					Path:    r.Input.Path,
					Kind:    kind,
					Message: apperrors.GetErrorMessage(r.Error),
				})
				return
			}
			res.Tree.Merge(r.Result.records)
			res.Blobs = append(res.Blobs, r.Result.summary)
		})

	res.AttributedSize = res.Tree.Size()
	res.Phases = sw.Phases()
	sw.Log(a.logger)

	metrics := pool.Metrics()
	a.logger.Debug("Processed %d blobs (%d failed, %d skipped) in %v",
		metrics.TotalTasks, metrics.FailedTasks, metrics.SkippedTasks, metrics.TotalDuration)

	if err := ctx.Err(); err != nil {
		return res, apperrors.Wrap(apperrors.CodeCanceled, "analysis canceled", err)
	}
	a.logger.Info("Attributed %d of %d bytes across %d classes", res.AttributedSize, res.TotalSize, res.Tree.Classes())
	return res, nil
}

func (a *Analyzer) processBlob(ctx context.Context, blob dex.Blob, sw *utils.Stopwatch) (out *blobOutcome, err error) {
	ctx, span := telemetry.StartBlob(ctx, blob.Path, len(blob.Data))
	defer func() { telemetry.End(span, err) }()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCanceled, "blob skipped", err)
	}
	if blob.Err != nil {
		return nil, blob.Err
	}

	clock := a.config.Clock
	if clock == nil {
		clock = utils.RealClock{}
	}
	begin := clock.Now()

	stop := sw.Start("parse")
	m, err := dex.Parse(blob)
	stop()
	if err != nil {
		return nil, err
	}

	stop = sw.Start("attribute")
	attr := a.attributor.Attribute(m)
	stop()
	records := attr.Records
	span.SetAttributes(telemetry.AttrClassCount.Int(len(m.Classes)))
	a.logger.Debug("Parsed %s: version %s, %d classes, %d methods", blob.Path, m.Version, len(m.Classes), len(m.MethodDefs))

	return &blobOutcome{
		records: records,
		summary: model.BlobSummary{
			Path:           blob.Path,
			Version:        m.Version,
			Size:           uint64(len(blob.Data)),
			AttributedSize: attr.Claimed,
			Classes:        len(m.Classes),
			Methods:        len(m.MethodDefs),
			Duration:       clock.Now().Sub(begin),
		},
	}, nil
}
