package bulkimport

import "fmt"

// IndexKind tags the kind of index a stream of records targets (spec §3).
type IndexKind uint8

const (
	IndexNaming IndexKind = iota
	IndexChildren
	IndexSubtree
	IndexEquality
	IndexPresence
	IndexSubstring
	IndexOrdering
	IndexApproximate
	IndexExtSubstring
	IndexExtShared
)

func (k IndexKind) String() string {
	switch k {
	case IndexNaming:
		return "naming"
	case IndexChildren:
		return "children"
	case IndexSubtree:
		return "subtree"
	case IndexEquality:
		return "equality"
	case IndexPresence:
		return "presence"
	case IndexSubstring:
		return "substring"
	case IndexOrdering:
		return "ordering"
	case IndexApproximate:
		return "approximate"
	case IndexExtSubstring:
		return "ext_substring"
	case IndexExtShared:
		return "ext_shared"
	default:
		return "unknown"
	}
}

// IndexKey identifies one on-disk index within one suffix: an (attribute,
// kind) pair. It is a plain comparable struct so it can be used directly
// as a Go map key (equality and hashing over both fields, per spec §4.A) —
// no bespoke hash function is needed the way friggdb needed farm.Fingerprint64
// for its bloom filter, because this engine never does approximate
// membership testing.
//
// SubstringKeyLength is a hint carried alongside identity, not part of it:
// spec §4.A says equality/hashing use (attribute, kind) only.
type IndexKey struct {
	Attribute          string
	Kind               IndexKind
	SubstringKeyLength int
}

// Name yields the stable, filesystem-safe string used as the spill run's
// file name.
func (k IndexKey) Name() string {
	return fmt.Sprintf("%s.%s", k.Attribute, k.Kind)
}

// identity is the map-key projection of an IndexKey per the equality rule
// above: (attribute, kind) only.
type indexKeyIdentity struct {
	Attribute string
	Kind      IndexKind
}

func (k IndexKey) identity() indexKeyIdentity {
	return indexKeyIdentity{Attribute: k.Attribute, Kind: k.Kind}
}
