package bulkimport

import "context"

// ancestorEntry is one node on the naming merger's ancestor stack: the
// root-to-current-node path through the tree, in the order records
// arrive (spec §4.J: "the naming index's comparator orders names so that
// descendants immediately follow their ancestor").
type ancestorEntry struct {
	name Name
	id   uint64
}

// NamingMerger is component J: the naming-index specialization used when
// SkipNameValidation was set, so import workers never had a parent ID to
// emit CHILDREN/SUBTREE records themselves. It derives both posting
// lists from the sorted naming-record stream in a single pass.
type NamingMerger struct {
	Base          Name
	NamingIndex   IndexKey
	ChildrenIndex IndexKey
	SubtreeIndex  IndexKey
	Limit         int
	MaintainCount bool
	Store         KeyValueStore
	Rejects       *RejectCounters

	// Existing holds every (sorted-name-bytes → entryID) pair already
	// committed to NamingIndex by a prior run, preloaded once via
	// LoadExistingNames when append-to-existing is configured (spec Open
	// Question 2). nil outside append mode, in which case findParent's
	// cross-run fallback is simply never consulted.
	Existing map[string]uint64

	stack    []ancestorEntry
	children map[string]*IDSet
	subtree  map[string]*IDSet
}

func NewNamingMerger(base Name, naming, children, subtree IndexKey, limit int, maintainCount bool, store KeyValueStore, rejects *RejectCounters) *NamingMerger {
	return &NamingMerger{
		Base:          base,
		NamingIndex:   naming,
		ChildrenIndex: children,
		SubtreeIndex:  subtree,
		Limit:         limit,
		MaintainCount: maintainCount,
		Store:         store,
		Rejects:       rejects,
		children:      make(map[string]*IDSet),
		subtree:       make(map[string]*IDSet),
	}
}

// Process runs spec §4.J's per-record algorithm against one naming
// record, writing the naming entry itself immediately and accumulating
// CHILDREN/SUBTREE in memory for the final Flush.
func (m *NamingMerger) Process(ctx context.Context, name Name, entryID uint64) error {
	if err := m.Store.Put(ctx, m.NamingIndex, ToSortedBytes(name), entryID); err != nil {
		return err
	}

	if len(m.stack) == 0 {
		m.stack = append(m.stack, ancestorEntry{name: name, id: entryID})
		return nil
	}

	parentIdx, ok := m.findParent(name)
	if !ok {
		m.Rejects.Record(RejectMissingParent)
		return nil
	}
	parent := m.stack[parentIdx]

	// Prune entries strictly between the current parent and the last
	// key: they cannot be ancestors of anything further in sorted order.
	m.stack = m.stack[:parentIdx+1]
	m.stack = append(m.stack, ancestorEntry{name: name, id: entryID})

	m.addTo(m.children, parent.name, entryID)
	for i := 0; i <= parentIdx; i++ {
		m.addTo(m.subtree, m.stack[i].name, entryID)
	}

	return nil
}

// findParent locates name's immediate parent among the current ancestor
// stack, following the spec's three cases: the previous processed name
// (stack top) if it is name's parent, a deeper stack entry that is name's
// parent, or (if neither applies) the structurally-computed parent, looked
// up by exact position in the stack. An ancestor further up than the
// parent does not count: the parent itself must have been seen. If none of
// those resolve it and m.Existing is populated (append-
// to-existing mode), the structurally-computed parent is looked up there
// too, on the theory that a prior run may have committed it before this
// one's stack ever started accumulating (spec Open Question 2). Reaching
// this case means no entry left on the stack is name's parent, so the
// whole stack is discarded and replaced with just
// the recovered parent, a leaf with no ancestors of its own. SUBTREE
// propagation for this entry therefore stops at that parent rather than
// reaching further back across the run boundary, and no stale entry from
// an unrelated branch is carried forward. Absent from both means a
// genuinely dangling parent.
func (m *NamingMerger) findParent(name Name) (int, bool) {
	top := len(m.stack) - 1
	depth := len(name.Components)
	if len(m.stack[top].name.Components)+1 == depth && IsAncestorOf(m.stack[top].name, name) {
		return top, true
	}
	for i := top - 1; i >= 0; i-- {
		if len(m.stack[i].name.Components)+1 == depth && IsAncestorOf(m.stack[i].name, name) {
			return i, true
		}
	}

	parentName, ok := ParentWithinBase(name, m.Base)
	if !ok {
		return 0, false
	}
	for i := range m.stack {
		if m.stack[i].name.Equal(parentName) {
			return i, true
		}
	}

	if m.Existing != nil {
		if id, ok := m.Existing[string(ToSortedBytes(parentName))]; ok {
			m.stack = m.stack[:0]
			m.stack = append(m.stack, ancestorEntry{name: parentName, id: id})
			return 0, true
		}
	}

	return 0, false
}

// LoadExistingNames preloads every (sorted-name-bytes, entryID) pair
// already committed to index by a prior run, draining its IndexCursor
// once (spec: "look up ancestor IDs it hasn't seen yet in append-to-
// existing runs"). Called once per run, before any NamingMerger processes
// its first record, so the lookup is a plain map read rather than a
// cursor scan per dangling-parent case.
func LoadExistingNames(ctx context.Context, store KeyValueStore, index IndexKey) (map[string]uint64, error) {
	cur, err := store.Cursor(ctx, index)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	out := map[string]uint64{}
	for {
		key, id, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out[string(key)] = id
	}
	return out, nil
}

func (m *NamingMerger) addTo(acc map[string]*IDSet, name Name, entryID uint64) {
	key := string(ToSortedBytes(name))
	set, ok := acc[key]
	if !ok {
		set = NewIDSet(m.Limit, m.MaintainCount)
		acc[key] = set
	}
	set.Add(entryID)
}

// Flush writes the accumulated CHILDREN and SUBTREE posting lists into
// the store — spec §4.J: "At end-of-stream, flush the CHILDREN and
// SUBTREE accumulators into the store as posting lists."
func (m *NamingMerger) Flush(ctx context.Context) error {
	for key, set := range m.children {
		if err := m.Store.Insert(ctx, m.ChildrenIndex, []byte(key), set); err != nil {
			return err
		}
	}
	for key, set := range m.subtree {
		if err := m.Store.Insert(ctx, m.SubtreeIndex, []byte(key), set); err != nil {
			return err
		}
	}
	return nil
}
