// Package model defines the report types shared by the analyzer, the
// renderers and persistence.
package model

import (
	"strings"
	"time"
)

// NodeKind is the kind of a node in the size tree.
type NodeKind string

const (
	KindPackage NodeKind = "package"
	KindClass   NodeKind = "class"
	KindMethod  NodeKind = "method"
)

// Marker returns the single-letter marker used in text reports.
func (k NodeKind) Marker() string {
	switch k {
	case KindPackage:
		return "P"
	case KindClass:
		return "C"
	case KindMethod:
		return "M"
	default:
		return "?"
	}
}

// ReportNode is one emitted node of the size tree.
type ReportNode struct {
	Name              string        `json:"name"`
	Kind              NodeKind      `json:"kind"`
	Size              uint64        `json:"size"`
	DirectSize        uint64        `json:"direct_size,omitempty"`
	DefinedMethods    int           `json:"defined_methods"`
	ReferencedMethods int           `json:"referenced_methods"`
	UnreadableName    bool          `json:"unreadable_name,omitempty"`
	Children          []*ReportNode `json:"children,omitempty"`
}

// Walk visits n and its descendants depth-first, pre-order. path holds the
// names from the first child of the root down to the visited node; the root
// itself is visited with an empty path.
func (n *ReportNode) Walk(fn func(path []string, node *ReportNode)) {
	var walk func(path []string, node *ReportNode)
	walk = func(path []string, node *ReportNode) {
		fn(path, node)
		for _, c := range node.Children {
			walk(append(path[:len(path):len(path)], c.Name), c)
		}
	}
	walk(nil, n)
}

// Find returns the descendant reached by following dotted segments, e.g.
// "a.b.Foo". The empty string returns n.
func (n *ReportNode) Find(dotted string) *ReportNode {
	if dotted == "" {
		return n
	}
	cur := n
	for _, seg := range strings.Split(dotted, ".") {
		var next *ReportNode
		for _, c := range cur.Children {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// BlobFailure records a DEX blob that was excluded from the tree.
type BlobFailure struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BlobSummary describes a blob that was analyzed successfully.
type BlobSummary struct {
	Path           string        `json:"path"`
	Version        string        `json:"version"`
	Size           uint64        `json:"size"`
	AttributedSize uint64        `json:"attributed_size"`
	Classes        int           `json:"classes"`
	Methods        int           `json:"methods"`
	Duration       time.Duration `json:"duration_ns"`
}

// CategorySummary is the size of all top-level packages in one category.
type CategorySummary struct {
	Category string  `json:"category"`
	Size     uint64  `json:"size"`
	Percent  float64 `json:"percent"`
}

// Report is the complete output of one breakdown run.
type Report struct {
	RunUUID        string            `json:"run_uuid,omitempty"`
	Container      string            `json:"container"`
	Granularity    string            `json:"granularity"`
	Sorted         bool              `json:"sorted"`
	TotalSize      uint64            `json:"total_size"`
	AttributedSize uint64            `json:"attributed_size"`
	Root           *ReportNode       `json:"root"`
	Categories     []CategorySummary `json:"categories,omitempty"`
	Blobs          []BlobSummary     `json:"blobs"`
	Failures       []BlobFailure     `json:"failures"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// HasFailures reports whether any blob was excluded.
func (r *Report) HasFailures() bool {
	return len(r.Failures) > 0
}
