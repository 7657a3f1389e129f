package bulkimport

import "context"

// Entry is the in-memory shape the external entry parser hands to import
// workers (spec §1: parsing itself is out of scope). A hierarchical Name
// plus a flat multi-valued attribute map is all the indexers need.
type Entry struct {
	Name       Name
	Attributes map[string][]string
}

// EntrySource is the shared, contended parser feed import workers drain
// from (spec §5.4): "next() → (Entry, suffix-hint) | EOF; single consumer
// model is not required (workers contend)".
type EntrySource interface {
	// Next returns the next parsed entry and the base name of the suffix
	// it belongs to. It returns io.EOF (wrapped or not) once the source is
	// exhausted, and must be safe for concurrent callers.
	Next(ctx context.Context) (entry Entry, suffixBase Name, err error)
}

// IndexerRegistry resolves the set of indexes a given attribute
// participates in, and how to derive key bytes for each — the
// per-attribute dispatch table the REDESIGN FLAGS section asks for in
// place of an inheritance hierarchy (spec §9: "replace the inheritance
// hierarchy with a tagged variant for IndexType and a dispatch table
// keyed on it"). Presence of an indexer for a given (attribute, kind)
// determines whether records are emitted at all (spec §6).
type IndexerRegistry interface {
	// IndexesFor returns every IndexKey a value of the named attribute
	// should be written to (e.g. EQUALITY + SUBSTRING + PRESENCE).
	IndexesFor(attribute string) []IndexKey

	// KeysFor derives the set of index key byte-strings entry contributes
	// to index (e.g. SUBSTRING derives multiple overlapping substrings
	// from one attribute value).
	KeysFor(index IndexKey, entry Entry) [][]byte
}

// Container is one suffix's on-disk index container: a name space the
// store can open, lock, close, delete, and swap by name (spec §5.4,
// §Container swap).
type Container interface {
	Lock(ctx context.Context) error
	Unlock() error
	Close() error
	Delete() error
}

// KeyValueStore is the external backing store the engine writes into
// (spec §5.4). Exactly one KeyValueStore is shared across all suffixes in
// a run; the store is assumed exclusive to this process.
type KeyValueStore interface {
	// Insert applies an ID-set union at key within index (Phase 2 merge
	// apply). Delete applies an ID-set subtraction. Put writes a single
	// entryID directly (the naming index's 1:1 key→id mapping).
	Insert(ctx context.Context, index IndexKey, key []byte, ids *IDSet) error
	Delete(ctx context.Context, index IndexKey, key []byte, ids *IDSet) error
	Put(ctx context.Context, namingIndex IndexKey, key []byte, id uint64) error

	// Cursor opens a forward cursor over index's existing contents, used
	// by the naming merger to look up ancestor IDs it hasn't seen yet in
	// append-to-existing runs.
	Cursor(ctx context.Context, index IndexKey) (IndexCursor, error)

	OpenContainer(ctx context.Context, base Name, name string) (Container, error)
	RegisterContainer(ctx context.Context, base Name, name string) error
	UnregisterContainer(ctx context.Context, base Name, name string) error

	// MarkIndexTrusted marks an index trusted in the store once Phase 2
	// has finished writing it. The orchestrator's JSON manifest
	// (component M) is a separate file that records the same fact.
	MarkIndexTrusted(ctx context.Context, index IndexKey) error

	IndexEntryLimit(index IndexKey) int
	MaintainCount(index IndexKey) bool
	Comparator(index IndexKey) Comparator

	// IndexID resolves the 32-bit tag Records carry for index, assigning
	// one on first encounter (spec §5: "write-once, inserted on first
	// encounter via compare-and-set, read-only thereafter").
	IndexID(index IndexKey) uint32
}

// IndexCursor walks a KeyValueStore index's existing, already-committed
// contents in key order.
type IndexCursor interface {
	Next(ctx context.Context) (key []byte, id uint64, ok bool, err error)
	Close() error
}

// ParentIndex resolves a name to its already-assigned entryID, for the
// parent-validation step import workers perform when skip-name-validation
// is off (spec §4.G step 1). In skip-name-validation mode no ParentIndex
// is consulted at all — validation is skipped entirely and the naming
// merger reconstructs parent relationships at merge time instead (spec
// §4.J).
type ParentIndex interface {
	Lookup(name Name) (id uint64, ok bool)
}
