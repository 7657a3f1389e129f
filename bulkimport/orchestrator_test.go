package bulkimport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errShadowNotRegistered = errors.New("container is not the one currently registered")

// memStore is a small, single-process in-memory KeyValueStore used only
// to exercise the orchestrator end-to-end; it is not the production
// store (out of scope per spec §1), just enough surface to drive every
// collaborator method the orchestrator calls.
type memStore struct {
	mu            sync.Mutex
	limit         int
	maintainCount bool

	postings    map[indexKeyIdentity]map[string]*IDSet
	naming      map[string]uint64
	indexID     map[indexKeyIdentity]uint32
	nextIndexID uint32
	trusted     map[indexKeyIdentity]bool

	containers map[string]*memContainer
	registered map[string]string
}

func newMemStore(limit int, maintainCount bool) *memStore {
	return &memStore{
		limit:         limit,
		maintainCount: maintainCount,
		postings:      map[indexKeyIdentity]map[string]*IDSet{},
		naming:        map[string]uint64{},
		indexID:       map[indexKeyIdentity]uint32{},
		trusted:       map[indexKeyIdentity]bool{},
		containers:    map[string]*memContainer{},
		registered:    map[string]string{},
	}
}

func (m *memStore) Insert(_ context.Context, index IndexKey, key []byte, ids *IDSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := index.identity()
	bucket, ok := m.postings[id]
	if !ok {
		bucket = map[string]*IDSet{}
		m.postings[id] = bucket
	}
	k := string(key)
	existing, ok := bucket[k]
	if !ok {
		existing = NewIDSet(m.limit, m.maintainCount)
		bucket[k] = existing
	}
	existing.Merge(ids)
	return nil
}

func (m *memStore) Delete(_ context.Context, index IndexKey, key []byte, ids *IDSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.postings[index.identity()]
	if !ok {
		return nil
	}
	existing, ok := bucket[string(key)]
	if !ok {
		return nil
	}
	existing.Subtract(ids)
	return nil
}

func (m *memStore) Put(_ context.Context, _ IndexKey, key []byte, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naming[string(key)] = id
	return nil
}

func (m *memStore) Cursor(context.Context, IndexKey) (IndexCursor, error) {
	return emptyCursor{}, nil
}

func (m *memStore) OpenContainer(_ context.Context, base Name, name string) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := base.String() + "|" + name
	c, ok := m.containers[key]
	if !ok {
		c = &memContainer{}
		m.containers[key] = c
	}
	return c, nil
}

func (m *memStore) RegisterContainer(_ context.Context, base Name, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[base.String()] = name
	return nil
}

func (m *memStore) UnregisterContainer(_ context.Context, base Name, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered[base.String()] != name {
		return errShadowNotRegistered
	}
	delete(m.registered, base.String())
	return nil
}

func (m *memStore) MarkIndexTrusted(_ context.Context, index IndexKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trusted[index.identity()] = true
	return nil
}

func (m *memStore) IndexEntryLimit(IndexKey) int   { return m.limit }
func (m *memStore) MaintainCount(IndexKey) bool    { return m.maintainCount }
func (m *memStore) Comparator(IndexKey) Comparator { return nil }

func (m *memStore) IndexID(index IndexKey) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := index.identity()
	if v, ok := m.indexID[id]; ok {
		return v
	}
	m.nextIndexID++
	m.indexID[id] = m.nextIndexID
	return m.nextIndexID
}

type emptyCursor struct{}

func (emptyCursor) Next(context.Context) ([]byte, uint64, bool, error) { return nil, 0, false, nil }
func (emptyCursor) Close() error                                      { return nil }

type memContainer struct{}

func (c *memContainer) Lock(context.Context) error { return nil }
func (c *memContainer) Unlock() error              { return nil }
func (c *memContainer) Close() error               { return nil }
func (c *memContainer) Delete() error              { return nil }

func (m *memStore) childrenOf(name Name) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.postings[(IndexKey{Kind: IndexChildren}).identity()][string(ToSortedBytes(name))]
	if !ok {
		return nil
	}
	return append([]uint64(nil), set.ids...)
}

func (m *memStore) subtreeOf(name Name) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.postings[(IndexKey{Kind: IndexSubtree}).identity()][string(ToSortedBytes(name))]
	if !ok {
		return nil
	}
	return append([]uint64(nil), set.ids...)
}

// e1Entries builds the §8 E1 scenario: base=o=x; a,o=x; b,o=x; c,b,o=x.
func e1Entries(base Name) []fakeEntry {
	return []fakeEntry{
		{entry: Entry{Name: base}, base: base},
		{entry: Entry{Name: n("a", "o=x")}, base: base},
		{entry: Entry{Name: n("b", "o=x")}, base: base},
		{entry: Entry{Name: n("c", "b", "o=x")}, base: base},
	}
}

func TestOrchestratorHappyPathValidatingFreshImport(t *testing.T) {
	base := n("o=x")
	store := newMemStore(1000, false)
	suffix := &Suffix{Base: base, TargetContainer: "o-x"}

	source := &fakeEntrySource{entries: e1Entries(base)}

	o := &Orchestrator{
		// ThreadCount 1 keeps EntryID assignment in source order so this
		// test can assert on concrete IDs instead of just set membership.
		Config:          &Config{ThreadCount: 1, TempDirectory: t.TempDir()},
		Registry:        fakeRegistry{},
		Store:           store,
		Source:          source,
		Suffixes:        []*Suffix{suffix},
		AvailableMemory: 64 * mib,
	}

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), result.Stats.Loaded.Load())
	require.Equal(t, int64(0), result.Rejects.Total())

	require.Len(t, store.naming, 4)
	require.ElementsMatch(t, []uint64{2, 3}, store.childrenOf(base))
	require.ElementsMatch(t, []uint64{4}, store.childrenOf(n("b", "o=x")))
	require.ElementsMatch(t, []uint64{2, 3, 4}, store.subtreeOf(base))

	require.Equal(t, "o-x", store.registered[base.String()])
	require.True(t, store.trusted[(IndexKey{Kind: IndexNaming}).identity()])
	require.True(t, store.trusted[(IndexKey{Kind: IndexChildren}).identity()])
	require.True(t, store.trusted[(IndexKey{Kind: IndexSubtree}).identity()])
}

func TestOrchestratorSkipNameValidationReconstructsViaNamingMerger(t *testing.T) {
	base := n("o=x")
	store := newMemStore(1000, false)
	suffix := &Suffix{Base: base, TargetContainer: "o-x"}

	// Deliberately fed out of hierarchical order: the child arrives before
	// its parent. Skip-name-validation accepts both at ingest time; the
	// naming merger (component J) reconstructs CHILDREN/SUBTREE correctly
	// regardless, since Phase 2 re-sorts before it ever sees the stream.
	source := &fakeEntrySource{entries: []fakeEntry{
		{entry: Entry{Name: n("c", "b", "o=x")}, base: base},
		{entry: Entry{Name: base}, base: base},
		{entry: Entry{Name: n("b", "o=x")}, base: base},
		{entry: Entry{Name: n("a", "o=x")}, base: base},
	}}

	o := &Orchestrator{
		Config:          &Config{ThreadCount: 1, TempDirectory: t.TempDir(), SkipNameValidation: true},
		Registry:        fakeRegistry{},
		Store:           store,
		Source:          source,
		Suffixes:        []*Suffix{suffix},
		AvailableMemory: 64 * mib,
	}

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), result.Stats.Loaded.Load())
	require.Equal(t, int64(0), result.Rejects.Total())

	require.Len(t, store.naming, 4)

	bID, ok := store.naming[string(ToSortedBytes(n("b", "o=x")))]
	require.True(t, ok)
	cID, ok := store.naming[string(ToSortedBytes(n("c", "b", "o=x")))]
	require.True(t, ok)

	require.Contains(t, store.childrenOf(base), bID)
	require.Contains(t, store.childrenOf(n("b", "o=x")), cID)
	require.NotContains(t, store.childrenOf(base), cID)
	require.Contains(t, store.subtreeOf(base), cID)
	require.Contains(t, store.subtreeOf(n("b", "o=x")), cID)

	require.Equal(t, "o-x", store.registered[base.String()])
}
