package bulkimport

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEntrySource replays a fixed list of (Entry, suffixBase) pairs.
type fakeEntrySource struct {
	mu      sync.Mutex
	entries []fakeEntry
	pos     int
}

type fakeEntry struct {
	entry Entry
	base  Name
}

func (s *fakeEntrySource) Next(ctx context.Context) (Entry, Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.entries) {
		return Entry{}, Name{}, io.EOF
	}
	e := s.entries[s.pos]
	s.pos++
	return e.entry, e.base, nil
}

// fakeRegistry indexes every attribute into one EQUALITY index named
// after the attribute, deriving a single key equal to the attribute's
// first value.
type fakeRegistry struct{}

func (fakeRegistry) IndexesFor(attribute string) []IndexKey {
	return []IndexKey{{Attribute: attribute, Kind: IndexEquality}}
}

func (fakeRegistry) KeysFor(index IndexKey, entry Entry) [][]byte {
	values := entry.Attributes[index.Attribute]
	if len(values) == 0 {
		return nil
	}
	return [][]byte{[]byte(values[0])}
}

func newTestRun(t *testing.T, suffix *Suffix, skipNameValidation bool, parents ParentIndex) (*ImportRun, *SortExecutor) {
	t.Helper()
	dir := t.TempDir()
	store := &fakeStore{limit: 1000}
	se := NewSortExecutor(context.Background(), store, dir, false, 2)
	pool := NewBufferPool(8, 1<<16)

	run := NewImportRun([]*Suffix{suffix}, skipNameValidation, fakeRegistry{}, store, parents, pool, se)
	return run, se
}

func TestImportWorkerEmitsNamingChildrenSubtreeAndAttributeRecords(t *testing.T) {
	base := n("c=US")
	suffix := &Suffix{Base: base}

	run, se := newTestRun(t, suffix, false, emptyParents{})

	parentName := n("ou=People", "c=US")
	childName := n("uid=bjensen", "ou=People", "c=US")

	source := &fakeEntrySource{entries: []fakeEntry{
		{entry: Entry{Name: parentName, Attributes: map[string][]string{"ou": {"People"}}}, base: base},
		{entry: Entry{Name: childName, Attributes: map[string][]string{"cn": {"bjensen"}}}, base: base},
	}}

	w := &ImportWorker{Run: run, Source: source}
	require.NoError(t, w.Task(context.Background()))

	runs, err := se.Close()
	require.NoError(t, err)

	require.NotEmpty(t, runs[IndexKey{Kind: IndexNaming}])
	require.NotEmpty(t, runs[IndexKey{Kind: IndexChildren}])
	require.NotEmpty(t, runs[IndexKey{Kind: IndexSubtree}])
	require.NotEmpty(t, runs[IndexKey{Attribute: "cn", Kind: IndexEquality}])
	require.Equal(t, int64(0), run.Rejects.Total())
}

func TestImportWorkerRejectsDuplicateNames(t *testing.T) {
	base := n("c=US")
	suffix := &Suffix{Base: base}
	run, se := newTestRun(t, suffix, true, nil)

	entry := Entry{Name: n("ou=People", "c=US")}
	source := &fakeEntrySource{entries: []fakeEntry{
		{entry: entry, base: base},
		{entry: entry, base: base},
	}}

	w := &ImportWorker{Run: run, Source: source}
	require.NoError(t, w.Task(context.Background()))
	_, err := se.Close()
	require.NoError(t, err)

	require.Equal(t, int64(1), run.Rejects.Snapshot()[RejectDuplicateName])
}

func TestImportWorkerRejectsMissingParentWhenValidating(t *testing.T) {
	base := n("c=US")
	suffix := &Suffix{Base: base}
	run, se := newTestRun(t, suffix, false, emptyParents{})

	entry := Entry{Name: n("uid=bjensen", "ou=People", "c=US")}
	source := &fakeEntrySource{entries: []fakeEntry{{entry: entry, base: base}}}

	w := &ImportWorker{Run: run, Source: source}
	require.NoError(t, w.Task(context.Background()))
	_, err := se.Close()
	require.NoError(t, err)

	require.Equal(t, int64(1), run.Rejects.Snapshot()[RejectMissingParent])
}

func TestImportWorkerSkipsParentLookupWhenValidationDisabled(t *testing.T) {
	base := n("c=US")
	suffix := &Suffix{Base: base}
	run, se := newTestRun(t, suffix, true, nil)

	entry := Entry{Name: n("uid=bjensen", "ou=People", "c=US")}
	source := &fakeEntrySource{entries: []fakeEntry{{entry: entry, base: base}}}

	w := &ImportWorker{Run: run, Source: source}
	require.NoError(t, w.Task(context.Background()))
	runs, err := se.Close()
	require.NoError(t, err)

	require.Equal(t, int64(0), run.Rejects.Total())
	// skip-name-validation mode never emits children/subtree records.
	require.Empty(t, runs[IndexKey{Kind: IndexChildren}])
	require.Empty(t, runs[IndexKey{Kind: IndexSubtree}])
	require.NotEmpty(t, runs[IndexKey{Kind: IndexNaming}])
}

// emptyParents always reports "no such parent" — used where the test
// only cares about the root-level entry never needing a lookup.
type emptyParents struct{}

func (emptyParents) Lookup(Name) (uint64, bool) { return 0, false }
