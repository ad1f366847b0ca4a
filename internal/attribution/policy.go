package attribution

import (
	"github.com/dex-analysis/internal/dex"
	"github.com/dex-analysis/pkg/collections"
	apperrors "github.com/dex-analysis/pkg/errors"
)

// Owner identifies who receives bytes: a class, or one of its methods.
// Method indexes dex.Model.MethodDefs and is -1 for the class itself.
type Owner struct {
	Class  int
	Method int
}

// ClassOwner returns the class-level owner of class c.
func ClassOwner(c int) Owner { return Owner{Class: c, Method: -1} }

// Ledger accumulates the bytes credited to each owner while one blob is
// walked. Credit returns the number of bytes the owner actually received;
// Claimed is the number of distinct blob bytes credited to anyone.
type Ledger interface {
	Credit(owner Owner, span dex.Span, shared bool) uint64
	Total(owner Owner) uint64
	Claimed() uint64
}

// SharePolicy decides how entries reached by more than one owner are
// apportioned. A new Ledger is created per blob.
type SharePolicy interface {
	Name() string
	NewLedger(blobSize int) Ledger
}

// PolicyFirstOwner is the name of the FirstOwner policy.
const PolicyFirstOwner = "first_owner"

// FirstOwner gives every byte to the first owner that credits it, in walk
// order, and nothing to later owners. The total credited to all owners never
// exceeds the blob size.
type FirstOwner struct{}

// Name implements SharePolicy.
func (FirstOwner) Name() string { return PolicyFirstOwner }

// NewLedger implements SharePolicy.
func (FirstOwner) NewLedger(blobSize int) Ledger {
	return &firstOwnerLedger{
		claimed: collections.NewBitset(blobSize),
		totals:  make(map[Owner]uint64),
	}
}

type firstOwnerLedger struct {
	claimed *collections.Bitset
	totals  map[Owner]uint64
}

// Credit claims the span byte by byte. Exclusive spans go through the same
// claim so that items shared by offset (deduplicated code or debug info) are
// still counted once.
func (l *firstOwnerLedger) Credit(owner Owner, span dex.Span, _ bool) uint64 {
	if span.Empty() {
		return 0
	}
	n := uint64(l.claimed.ClaimRange(int(span.Offset), int(span.Size)))
	l.totals[owner] += n
	return n
}

func (l *firstOwnerLedger) Total(owner Owner) uint64 {
	return l.totals[owner]
}

func (l *firstOwnerLedger) Claimed() uint64 {
	return uint64(l.claimed.Count())
}

// PolicyByName resolves a configured shared entry policy.
func PolicyByName(name string) (SharePolicy, error) {
	switch name {
	case "", PolicyFirstOwner:
		return FirstOwner{}, nil
	}
	return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown shared entry policy %q", name)
}

// Granularity selects how deep attribution goes.
type Granularity string

const (
	// GranularityPackage reports packages only; records are still per class.
	GranularityPackage Granularity = "package"
	GranularityClass   Granularity = "class"
	GranularityMethod  Granularity = "method"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case GranularityPackage, GranularityClass, GranularityMethod:
		return g, nil
	case "":
		return GranularityClass, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown granularity %q", s)
}

// MethodSharedMode decides who is credited with shared entries reached from
// a method at method granularity.
type MethodSharedMode string

const (
	// MethodSharedFirstOwner lets methods claim shared entries like classes do.
	MethodSharedFirstOwner MethodSharedMode = "first_owner"
	// MethodSharedClass credits shared entries reached from a method to its
	// class; methods keep only their code and debug info.
	MethodSharedClass MethodSharedMode = "class"
)

// ParseMethodSharedMode validates a method shared entry mode.
func ParseMethodSharedMode(s string) (MethodSharedMode, error) {
	switch m := MethodSharedMode(s); m {
	case MethodSharedFirstOwner, MethodSharedClass:
		return m, nil
	case "":
		return MethodSharedFirstOwner, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown method shared entry mode %q", s)
}
