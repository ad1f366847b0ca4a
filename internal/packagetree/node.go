// Package packagetree folds per-class size records into a tree keyed by
// package name segments.
package packagetree

import (
	"github.com/dex-analysis/pkg/model"
)

// Node is one package, class or method in the tree.
type Node struct {
	Name              string
	Kind              model.NodeKind
	Size              uint64
	DirectSize        uint64
	DefinedMethods    int
	ReferencedMethods int
	UnreadableName    bool
	Children          []*Node

	// children indexes Children by kind and name
	children map[string]int
}

func newNode(name string, kind model.NodeKind) *Node {
	return &Node{
		Name:     name,
		Kind:     kind,
		children: make(map[string]int),
	}
}

// child returns the child with the given kind and name, creating it at the
// end of Children on first use.
func (n *Node) child(name string, kind model.NodeKind) *Node {
	key := makeChildKey(name, kind)
	if idx, ok := n.children[key]; ok {
		return n.Children[idx]
	}
	c := newNode(name, kind)
	n.children[key] = len(n.Children)
	n.Children = append(n.Children, c)
	return c
}

// Child looks up an existing child.
func (n *Node) Child(name string, kind model.NodeKind) *Node {
	if idx, ok := n.children[makeChildKey(name, kind)]; ok {
		return n.Children[idx]
	}
	return nil
}

// makeChildKey uses the record separator so names cannot collide with the
// kind marker.
func makeChildKey(name string, kind model.NodeKind) string {
	return kind.Marker() + "\x1E" + name
}
