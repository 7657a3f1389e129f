package bulkimport

import "strings"

// Name is a hierarchical entry name: a sequence of RDN components ordered
// leaf-first, root-last (e.g. "c=US" is Components[len-1] for the entry
// "uid=bjensen,ou=People,c=US"). This is the in-memory shape the external
// entry parser is expected to hand the import workers; the parser itself
// is out of scope (spec §1).
type Name struct {
	Components []string
}

func (n Name) Equal(other Name) bool {
	if len(n.Components) != len(other.Components) {
		return false
	}
	for i := range n.Components {
		if n.Components[i] != other.Components[i] {
			return false
		}
	}
	return true
}

func (n Name) String() string {
	return strings.Join(n.Components, ",")
}

// IsAncestorOf reports whether a is a strict ancestor of b: b has more
// RDNs than a, and b's trailing components (its root end) equal a's
// components exactly.
func IsAncestorOf(a, b Name) bool {
	if len(a.Components) >= len(b.Components) {
		return false
	}
	offset := len(b.Components) - len(a.Components)
	for i, c := range a.Components {
		if b.Components[offset+i] != c {
			return false
		}
	}
	return true
}

// ParentWithinBase returns name's immediate parent, provided that parent
// is still within (is, or is a descendant of) base. Returns ok=false when
// name equals base (the base has no parent within itself).
func ParentWithinBase(name, base Name) (parent Name, ok bool) {
	if len(name.Components) <= len(base.Components) {
		return Name{}, false
	}
	parent = Name{Components: name.Components[1:]}
	if !parent.Equal(base) && !IsAncestorOf(base, parent) {
		return Name{}, false
	}
	return parent, true
}

// ParseName splits a comma-separated DN string (leaf-first, e.g.
// "uid=bjensen,ou=People,c=US") into a Name. It does no RDN-level
// validation or escaping — real DN parsing belongs to the entry source,
// out of scope here (spec §1); this is only for wiring suffix bases and
// branch lists from flags or config.
func ParseName(dn string) Name {
	if dn == "" {
		return Name{}
	}
	parts := strings.Split(dn, ",")
	components := make([]string, len(parts))
	for i, p := range parts {
		components[i] = strings.TrimSpace(p)
	}
	return Name{Components: components}
}

// nameSeparator must not appear inside a normalized RDN component.
const nameSeparator = "\x00"

// ToSortedBytes renders name using the naming index's reverse-component
// comparator: components are written root-to-leaf so that byte-lexicographic
// order places every descendant immediately after its ancestor, and an
// entire subtree sorts as one contiguous run. This is what lets the
// naming-index merger (component J) reconstruct CHILDREN/SUBTREE while
// streaming records in a single sorted pass.
func ToSortedBytes(n Name) []byte {
	if len(n.Components) == 0 {
		return nil
	}
	parts := make([]string, len(n.Components))
	for i, c := range n.Components {
		parts[len(n.Components)-1-i] = c
	}
	return []byte(strings.Join(parts, nameSeparator))
}

// FromSortedBytes inverts ToSortedBytes, for the naming-index merge path
// where the only surviving form of a name is its sorted-key encoding.
func FromSortedBytes(b []byte) Name {
	if len(b) == 0 {
		return Name{}
	}
	parts := strings.Split(string(b), nameSeparator)
	components := make([]string, len(parts))
	for i, p := range parts {
		components[len(parts)-1-i] = p
	}
	return Name{Components: components}
}
