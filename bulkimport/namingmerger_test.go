package bulkimport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamingMergerReconstructsChildrenAndSubtree(t *testing.T) {
	base := n("c=US")
	store := &recordingStore{}
	rejects := &RejectCounters{}

	m := NewNamingMerger(base,
		IndexKey{Kind: IndexNaming},
		IndexKey{Kind: IndexChildren},
		IndexKey{Kind: IndexSubtree},
		1000, false, store, rejects)

	// c=US (id 1)
	//   ou=People,c=US (id 2)
	//     uid=ahunter,ou=People,c=US (id 3)
	//     uid=bjensen,ou=People,c=US (id 4)
	//   ou=Groups,c=US (id 5)
	records := []struct {
		name Name
		id   uint64
	}{
		{base, 1},
		{n("ou=People", "c=US"), 2},
		{n("uid=ahunter", "ou=People", "c=US"), 3},
		{n("uid=bjensen", "ou=People", "c=US"), 4},
		{n("ou=Groups", "c=US"), 5},
	}

	ctx := context.Background()
	for _, r := range records {
		require.NoError(t, m.Process(ctx, r.name, r.id))
	}
	require.NoError(t, m.Flush(ctx))
	require.Equal(t, int64(0), rejects.Total())

	// children of c=US: People, Groups
	requireIDs(t, store, string(ToSortedBytes(base)), []uint64{2, 5})
	// children of People: bjensen, ahunter
	requireIDs(t, store, string(ToSortedBytes(n("ou=People", "c=US"))), []uint64{3, 4})
	// subtree of c=US: everything beneath it
	requireSubtreeIDs(t, store, string(ToSortedBytes(base)), []uint64{2, 3, 4, 5})
	// subtree of People: bjensen, ahunter
	requireSubtreeIDs(t, store, string(ToSortedBytes(n("ou=People", "c=US"))), []uint64{3, 4})
}

// requireIDs asserts that some insert call on the CHILDREN accumulator
// (the first IndexKey registered, i.e. the first len(store.inserts)/2)
// carries exactly ids for the given key. Since CHILDREN is flushed before
// SUBTREE in NamingMerger.Flush, we scan inserts in order and match by key,
// taking the first occurrence.
func requireIDs(t *testing.T, store *recordingStore, key string, ids []uint64) {
	t.Helper()
	for _, c := range store.inserts {
		if string(c.key) == key {
			require.ElementsMatch(t, ids, c.ids)
			return
		}
	}
	t.Fatalf("no insert recorded for key %q", key)
}

// requireSubtreeIDs looks for the *second* insert recorded for this key
// (CHILDREN and SUBTREE accumulators can share identical key bytes, e.g.
// when a name is both someone's immediate parent and an ancestor).
func requireSubtreeIDs(t *testing.T, store *recordingStore, key string, ids []uint64) {
	t.Helper()
	var matches []call
	for _, c := range store.inserts {
		if string(c.key) == key {
			matches = append(matches, c)
		}
	}
	require.NotEmpty(t, matches)
	last := matches[len(matches)-1]
	require.ElementsMatch(t, ids, last.ids)
}

func TestNamingMergerRejectsDanglingParent(t *testing.T) {
	base := n("c=US")
	store := &recordingStore{}
	rejects := &RejectCounters{}

	m := NewNamingMerger(base,
		IndexKey{Kind: IndexNaming},
		IndexKey{Kind: IndexChildren},
		IndexKey{Kind: IndexSubtree},
		1000, false, store, rejects)

	ctx := context.Background()
	require.NoError(t, m.Process(ctx, base, 1))
	// Skips straight to a grandchild without its parent ever appearing.
	require.NoError(t, m.Process(ctx, n("uid=bjensen", "ou=People", "c=US"), 2))
	require.NoError(t, m.Flush(ctx))

	require.Equal(t, int64(1), rejects.Snapshot()[RejectMissingParent])
}

func TestNamingMergerHandlesSiblingBranchesAfterPruning(t *testing.T) {
	base := n("c=US")
	store := &recordingStore{}
	rejects := &RejectCounters{}

	m := NewNamingMerger(base,
		IndexKey{Kind: IndexNaming},
		IndexKey{Kind: IndexChildren},
		IndexKey{Kind: IndexSubtree},
		1000, false, store, rejects)

	ctx := context.Background()
	records := []struct {
		name Name
		id   uint64
	}{
		{base, 1},
		{n("ou=People", "c=US"), 2},
		{n("uid=bjensen", "ou=People", "c=US"), 3},
		// Moves to a sibling branch: People's descendant must be pruned
		// from the ancestor stack before Groups is processed.
		{n("ou=Groups", "c=US"), 4},
		{n("cn=admins", "ou=Groups", "c=US"), 5},
	}
	for _, r := range records {
		require.NoError(t, m.Process(ctx, r.name, r.id))
	}
	require.NoError(t, m.Flush(ctx))
	require.Equal(t, int64(0), rejects.Total())

	requireIDs(t, store, string(ToSortedBytes(n("ou=Groups", "c=US"))), []uint64{5})
}

// TestNamingMergerResolvesParentFromExistingAcrossRunBoundary exercises the
// append-to-existing fallback in findParent: ou=People,c=US was committed
// by a prior run and never appears in this run's own stream, so bjensen's
// parent is only resolvable via m.Existing. The earlier Groups/admins
// branch must be fully displaced from the stack when that happens, or
// bjensen would incorrectly contribute to Groups' and admins' CHILDREN and
// SUBTREE posting lists.
func TestNamingMergerResolvesParentFromExistingAcrossRunBoundary(t *testing.T) {
	base := n("c=US")
	store := &recordingStore{}
	rejects := &RejectCounters{}

	m := NewNamingMerger(base,
		IndexKey{Kind: IndexNaming},
		IndexKey{Kind: IndexChildren},
		IndexKey{Kind: IndexSubtree},
		1000, false, store, rejects)
	m.Existing = map[string]uint64{
		string(ToSortedBytes(n("ou=People", "c=US"))): 100,
	}

	ctx := context.Background()
	// This run's own stream never includes c=US or ou=People,c=US — both
	// were already committed by a prior run. It starts on an unrelated
	// branch before reaching bjensen.
	records := []struct {
		name Name
		id   uint64
	}{
		{n("ou=Groups", "c=US"), 1},
		{n("cn=admins", "ou=Groups", "c=US"), 2},
		{n("uid=bjensen", "ou=People", "c=US"), 3},
	}
	for _, r := range records {
		require.NoError(t, m.Process(ctx, r.name, r.id))
	}
	require.NoError(t, m.Flush(ctx))
	require.Equal(t, int64(0), rejects.Total())

	// bjensen resolves under the recovered People entry, not under Groups.
	requireIDs(t, store, string(ToSortedBytes(n("ou=People", "c=US"))), []uint64{3})
	requireSubtreeIDs(t, store, string(ToSortedBytes(n("ou=People", "c=US"))), []uint64{3})

	// Groups/admins keep only what this run itself saw beneath them.
	requireIDs(t, store, string(ToSortedBytes(n("ou=Groups", "c=US"))), []uint64{2})
	requireSubtreeIDs(t, store, string(ToSortedBytes(n("ou=Groups", "c=US"))), []uint64{2})
}
