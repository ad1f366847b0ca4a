package report

import (
	"sort"
	"strings"

	"github.com/dex-analysis/pkg/filter"
	"github.com/dex-analysis/pkg/model"
)

// Categories sums the direct size of every node by the category of its
// dotted name. Methods are classified by their class. root must be an
// unpruned emission so the sizes add up to root.Size.
func Categories(root *model.ReportNode, f *filter.ClassFilter) []model.CategorySummary {
	totals := make(map[string]uint64)
	root.Walk(func(path []string, n *model.ReportNode) {
		if n.DirectSize == 0 {
			return
		}
		if n.Kind == model.KindMethod {
			path = path[:len(path)-1]
		}
		totals[f.Classify(strings.Join(path, "."))] += n.DirectSize
	})

	out := make([]model.CategorySummary, 0, len(totals))
	for cat, size := range totals {
		s := model.CategorySummary{Category: cat, Size: size}
		if root.Size > 0 {
			s.Percent = float64(size) * 100 / float64(root.Size)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].Category < out[j].Category
	})
	return out
}
