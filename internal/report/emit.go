// Package report turns a package tree into report values and renders them
// as text, JSON, gzip JSON or folded stacks.
package report

import (
	"sort"

	"github.com/dex-analysis/internal/packagetree"
	"github.com/dex-analysis/pkg/model"
)

// Options controls emission.
type Options struct {
	// Sort orders children by descending size, ties by ascending name.
	// Otherwise children keep insertion order.
	Sort bool
	// MaxDepth folds nodes deeper than this many levels below the root
	// into their ancestor at that depth; 0 keeps everything.
	MaxDepth int
	// MinSize folds nodes smaller than this many bytes into their parent.
	MinSize uint64
}

// Emit converts the tree depth-first into report nodes. A pruned node's
// bytes move into its parent's direct size, so every emitted node still has
// size == direct size + sum of children.
func Emit(tree *packagetree.Tree, opts Options) *model.ReportNode {
	return emitNode(tree.Root(), opts, 0)
}

func emitNode(n *packagetree.Node, opts Options, depth int) *model.ReportNode {
	out := &model.ReportNode{
		Name:              n.Name,
		Kind:              n.Kind,
		Size:              n.Size,
		DirectSize:        n.DirectSize,
		DefinedMethods:    n.DefinedMethods,
		ReferencedMethods: n.ReferencedMethods,
		UnreadableName:    n.UnreadableName,
	}
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		out.DirectSize = n.Size
		return out
	}

	children := n.Children
	if opts.Sort {
		children = append([]*packagetree.Node(nil), children...)
		sort.SliceStable(children, func(i, j int) bool {
			if children[i].Size != children[j].Size {
				return children[i].Size > children[j].Size
			}
			return children[i].Name < children[j].Name
		})
	}
	for _, c := range children {
		if c.Size < opts.MinSize {
			out.DirectSize += c.Size
			continue
		}
		out.Children = append(out.Children, emitNode(c, opts, depth+1))
	}
	return out
}
