package testutil

import (
	"strings"
	"testing"

	"github.com/dex-analysis/pkg/model"
)

// AssertTreeConsistent checks that every node's size is its direct size
// plus the sizes of its children. Package nodes without direct bytes must
// also carry the sum of their children's method counts.
func AssertTreeConsistent(t testing.TB, root *model.ReportNode) {
	t.Helper()
	root.Walk(func(path []string, n *model.ReportNode) {
		var size uint64
		defined, referenced := 0, 0
		for _, c := range n.Children {
			size += c.Size
			defined += c.DefinedMethods
			referenced += c.ReferencedMethods
		}
		name := strings.Join(path, ".")
		if n.Size != n.DirectSize+size {
			t.Errorf("node %q: size %d != direct %d + children %d", name, n.Size, n.DirectSize, size)
		}
		if len(n.Children) > 0 && n.Kind == model.KindPackage && n.DirectSize == 0 {
			if n.DefinedMethods != defined {
				t.Errorf("node %q: defined methods %d != children %d", name, n.DefinedMethods, defined)
			}
			if n.ReferencedMethods != referenced {
				t.Errorf("node %q: referenced methods %d != children %d", name, n.ReferencedMethods, referenced)
			}
		}
	})
}

// LeafSum returns the total size of class nodes under root.
func LeafSum(root *model.ReportNode) uint64 {
	var sum uint64
	root.Walk(func(_ []string, n *model.ReportNode) {
		if n.Kind == model.KindClass {
			sum += n.Size
		}
	})
	return sum
}
