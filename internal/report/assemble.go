package report

import (
	"time"

	"github.com/dex-analysis/internal/packagetree"
	"github.com/dex-analysis/pkg/filter"
	"github.com/dex-analysis/pkg/model"
)

// Input is everything a report is built from.
type Input struct {
	RunUUID     string
	Container   string
	Granularity string
	Tree        *packagetree.Tree
	Blobs       []model.BlobSummary
	Failures    []model.BlobFailure
	// TotalSize is the combined size of every blob, failed ones included.
	TotalSize uint64
	Options   Options
	// Filter enables the category summary when set.
	Filter      *filter.ClassFilter
	GeneratedAt time.Time
}

// Assemble builds the report value for one run.
func Assemble(in Input) *model.Report {
	r := &model.Report{
		RunUUID:        in.RunUUID,
		Container:      in.Container,
		Granularity:    in.Granularity,
		Sorted:         in.Options.Sort,
		TotalSize:      in.TotalSize,
		AttributedSize: in.Tree.Size(),
		Root:           Emit(in.Tree, in.Options),
		Blobs:          in.Blobs,
		Failures:       in.Failures,
		GeneratedAt:    in.GeneratedAt,
	}
	if r.Blobs == nil {
		r.Blobs = []model.BlobSummary{}
	}
	if r.Failures == nil {
		r.Failures = []model.BlobFailure{}
	}
	if in.Filter != nil {
		full := r.Root
		if in.Options.MaxDepth > 0 || in.Options.MinSize > 0 {
			full = Emit(in.Tree, Options{})
		}
		r.Categories = Categories(full, in.Filter)
	}
	return r
}
