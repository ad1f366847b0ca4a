package report

import (
	"io"

	"github.com/google/pprof/profile"

	"github.com/dex-analysis/pkg/model"
)

// PprofWriter encodes the size tree as a gzipped pprof profile with one
// "size/bytes" sample per node that owns bytes directly. Each sample's stack
// runs from that node up to the top-level package, so `go tool pprof -top`
// ranks owners and `-flat`/`-cum` match DirectSize and Size.
type PprofWriter struct{}

// NewPprofWriter creates a pprof writer.
func NewPprofWriter() *PprofWriter {
	return &PprofWriter{}
}

func (w *PprofWriter) Write(r *model.Report, out io.Writer) error {
	return BuildProfile(r).Write(out)
}

// BuildProfile converts a report into a pprof profile.
func BuildProfile(r *model.Report) *profile.Profile {
	p := &profile.Profile{
		SampleType:        []*profile.ValueType{{Type: "size", Unit: "bytes"}},
		DefaultSampleType: "size",
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:            1,
		TimeNanos:         r.GeneratedAt.UnixNano(),
		Comments:          []string{"container " + r.Container, "granularity " + r.Granularity},
	}
	for _, f := range r.Failures {
		p.Comments = append(p.Comments, "failed "+f.Path+" "+f.Kind)
	}

	// stack[i] is the location of the ancestor at depth i+1 of the node
	// being visited.
	var stack []*profile.Location
	newLocation := func(name string) *profile.Location {
		fn := &profile.Function{ID: uint64(len(p.Function) + 1), Name: name, SystemName: name}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{ID: uint64(len(p.Location) + 1), Line: []profile.Line{{Function: fn}}}
		p.Location = append(p.Location, loc)
		return loc
	}

	var rootLoc *profile.Location
	r.Root.Walk(func(path []string, n *model.ReportNode) {
		var leafFirst []*profile.Location
		if len(path) == 0 {
			if n.DirectSize == 0 {
				return
			}
			if rootLoc == nil {
				rootLoc = newLocation(TotalName)
			}
			leafFirst = []*profile.Location{rootLoc}
		} else {
			stack = append(stack[:len(path)-1], newLocation(displayName(path, n)))
			if n.DirectSize == 0 {
				return
			}
			leafFirst = make([]*profile.Location, len(stack))
			for i, loc := range stack {
				leafFirst[len(stack)-1-i] = loc
			}
		}

		p.Sample = append(p.Sample, &profile.Sample{
			Location: leafFirst,
			Value:    []int64{int64(n.DirectSize)},
			Label:    map[string][]string{"kind": {string(n.Kind)}},
		})
	})
	return p
}
