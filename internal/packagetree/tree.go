package packagetree

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dex-analysis/internal/attribution"
	"github.com/dex-analysis/pkg/model"
)

// Tree is the union of the size records of every analyzed blob. Adds are
// serialized by a mutex; a blob's records are applied under one acquisition
// by Merge.
type Tree struct {
	mu          sync.Mutex
	root        *Node
	granularity attribution.Granularity
	classes     int
}

// New returns an empty tree. At package granularity classes add to their
// package's direct size instead of becoming nodes.
func New(granularity attribution.Granularity) *Tree {
	return &Tree{
		root:        newNode("", model.KindPackage),
		granularity: granularity,
	}
}

// Add inserts one record.
func (t *Tree) Add(rec attribution.SizeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(rec)
}

// Merge inserts all records of one blob atomically.
func (t *Tree) Merge(recs []attribution.SizeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range recs {
		t.add(rec)
	}
}

// SplitClassName splits "a.b.Foo" into its package segments and simple
// name. Nested classes keep their binary name: "a.B$C" is class "B$C".
func SplitClassName(name string) ([]string, string) {
	segs := strings.Split(name, ".")
	return segs[:len(segs)-1], segs[len(segs)-1]
}

func (t *Tree) add(rec attribution.SizeRecord) {
	pkgs, simple := SplitClassName(rec.Class)
	t.classes++

	path := []*Node{t.root}
	cur := t.root
	for _, seg := range pkgs {
		cur = cur.child(seg, model.KindPackage)
		path = append(path, cur)
	}

	if t.granularity == attribution.GranularityPackage {
		cur.DirectSize += rec.Size
	} else {
		class := cur.child(simple, model.KindClass)
		direct := rec.Size
		for _, mr := range rec.Methods {
			method := class.child(mr.Name, model.KindMethod)
			method.DirectSize += mr.Size
			method.Size += mr.Size
			method.DefinedMethods = 1
			method.ReferencedMethods = 1
			direct -= mr.Size
		}
		class.DirectSize += direct
		class.Size += rec.Size
		class.DefinedMethods += rec.DefinedMethods
		class.ReferencedMethods += rec.ReferencedMethods
		class.UnreadableName = class.UnreadableName || rec.UnreadableName
	}

	for _, n := range path {
		n.Size += rec.Size
		n.DefinedMethods += rec.DefinedMethods
		n.ReferencedMethods += rec.ReferencedMethods
	}
}

// Root returns the root node. The tree must not be modified while the
// result is in use.
func (t *Tree) Root() *Node {
	return t.root
}

// Classes returns how many records were added.
func (t *Tree) Classes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.classes
}

// Size returns the total attributed size.
func (t *Tree) Size() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.Size
}

// Verify checks that every node's size is its direct size plus the sum of
// its children's sizes.
func (t *Tree) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return verify(t.root, nil)
}

func verify(n *Node, path []string) error {
	var sum uint64
	for _, c := range n.Children {
		if err := verify(c, append(path[:len(path):len(path)], c.Name)); err != nil {
			return err
		}
		sum += c.Size
	}
	if n.Size != n.DirectSize+sum {
		return fmt.Errorf("node %q: size %d != direct %d + children %d",
			strings.Join(path, "."), n.Size, n.DirectSize, sum)
	}
	return nil
}
