package bulkimport

// Suffix is a loading context for one base name (spec §3 Suffix): the
// target container, an optional source container when migrating, and its
// include/exclude branch rewrite.
type Suffix struct {
	Base Name

	TargetContainer string
	SourceContainer string // empty when there is nothing to migrate from

	IncludeBranches []Name
	ExcludeBranches []Name

	Indexes []IndexKey
}

// IsClearOnly reports the spec §8 shortcut: "Include branch equals base
// and no excludes: the existing container is cleared instead of
// migrated."
func (s *Suffix) IsClearOnly() bool {
	if len(s.ExcludeBranches) != 0 {
		return false
	}
	if len(s.IncludeBranches) != 1 {
		return false
	}
	return s.IncludeBranches[0].Equal(s.Base)
}

// Normalize enforces the Suffix invariant (spec §3): include-branches are
// minimized (no include is an ancestor of another include's subtree —
// the ancestor alone already covers it), and exclude-branches are
// restricted to those actually under some include (an exclude outside
// every include is meaningless, since the include set already omits it).
func (s *Suffix) Normalize() {
	s.IncludeBranches = minimizeIncludes(s.IncludeBranches)
	s.ExcludeBranches = restrictExcludes(s.ExcludeBranches, s.IncludeBranches)
}

// minimizeIncludes drops any include branch that is a descendant of
// another include branch in the same set (the ancestor already includes
// it).
func minimizeIncludes(includes []Name) []Name {
	var kept []Name
	for i, candidate := range includes {
		redundant := false
		for j, other := range includes {
			if i == j {
				continue
			}
			if IsAncestorOf(other, candidate) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// restrictExcludes drops any exclude branch that isn't under (or equal
// to) some include branch: it would otherwise be migrated wholesale
// anyway, so excluding it is a no-op the caller doesn't need carried
// forward.
func restrictExcludes(excludes, includes []Name) []Name {
	var kept []Name
	for _, ex := range excludes {
		underSomeInclude := false
		for _, inc := range includes {
			if ex.Equal(inc) || IsAncestorOf(inc, ex) {
				underSomeInclude = true
				break
			}
		}
		if underSomeInclude {
			kept = append(kept, ex)
		}
	}
	return kept
}
