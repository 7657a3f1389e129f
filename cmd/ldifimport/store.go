package main

import (
	"context"
	"sync"

	"github.com/WrenArchiver/opendj-sdk/bulkimport"
)

// exampleStore is a single-process, in-memory KeyValueStore: enough to
// let this wrapper run end-to-end against its own JSONL fixtures. A real
// deployment would back bulkimport.KeyValueStore with whatever directory
// engine holds the live indexes; that engine is out of scope here (spec
// §1), same as the LDIF parser.
type exampleStore struct {
	mu       sync.Mutex
	limit    int
	postings map[string]map[string]*bulkimport.IDSet
	naming   map[string]uint64
	trusted  map[string]bool

	registry exampleRegistry
}

func newExampleStore(cfg *bulkimport.Config) (*exampleStore, error) {
	return &exampleStore{
		limit:    100000,
		postings: map[string]map[string]*bulkimport.IDSet{},
		naming:   map[string]uint64{},
		trusted:  map[string]bool{},
	}, nil
}

func bucketKey(index bulkimport.IndexKey) string {
	return index.Name()
}

func (s *exampleStore) Insert(_ context.Context, index bulkimport.IndexKey, key []byte, ids *bulkimport.IDSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := bucketKey(index)
	bucket, ok := s.postings[bk]
	if !ok {
		bucket = map[string]*bulkimport.IDSet{}
		s.postings[bk] = bucket
	}
	k := string(key)
	existing, ok := bucket[k]
	if !ok {
		existing = bulkimport.NewIDSet(s.limit, false)
		bucket[k] = existing
	}
	existing.Merge(ids)
	return nil
}

func (s *exampleStore) Delete(_ context.Context, index bulkimport.IndexKey, key []byte, ids *bulkimport.IDSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.postings[bucketKey(index)]
	if !ok {
		return nil
	}
	if existing, ok := bucket[string(key)]; ok {
		existing.Subtract(ids)
	}
	return nil
}

func (s *exampleStore) Put(_ context.Context, _ bulkimport.IndexKey, key []byte, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.naming[string(key)] = id
	return nil
}

func (s *exampleStore) Cursor(context.Context, bulkimport.IndexKey) (bulkimport.IndexCursor, error) {
	return exhaustedCursor{}, nil
}

func (s *exampleStore) OpenContainer(context.Context, bulkimport.Name, string) (bulkimport.Container, error) {
	return noopContainer{}, nil
}

func (s *exampleStore) RegisterContainer(context.Context, bulkimport.Name, string) error   { return nil }
func (s *exampleStore) UnregisterContainer(context.Context, bulkimport.Name, string) error { return nil }

func (s *exampleStore) MarkIndexTrusted(_ context.Context, index bulkimport.IndexKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted[bucketKey(index)] = true
	return nil
}

func (s *exampleStore) IndexEntryLimit(bulkimport.IndexKey) int              { return s.limit }
func (s *exampleStore) MaintainCount(bulkimport.IndexKey) bool               { return false }
func (s *exampleStore) Comparator(bulkimport.IndexKey) bulkimport.Comparator { return nil }

func (s *exampleStore) IndexID(bulkimport.IndexKey) uint32 { return 1 }

type exhaustedCursor struct{}

func (exhaustedCursor) Next(context.Context) ([]byte, uint64, bool, error) { return nil, 0, false, nil }
func (exhaustedCursor) Close() error                                      { return nil }

type noopContainer struct{}

func (noopContainer) Lock(context.Context) error { return nil }
func (noopContainer) Unlock() error              { return nil }
func (noopContainer) Close() error               { return nil }
func (noopContainer) Delete() error              { return nil }

// exampleRegistry indexes every attribute into a single EQUALITY index
// keyed on the attribute name, using the attribute's first value as the
// key — enough for the fixture-driven demo, not a real schema.
type exampleRegistry struct{}

func (exampleRegistry) IndexesFor(attribute string) []bulkimport.IndexKey {
	return []bulkimport.IndexKey{{Attribute: attribute, Kind: bulkimport.IndexEquality}}
}

func (exampleRegistry) KeysFor(index bulkimport.IndexKey, entry bulkimport.Entry) [][]byte {
	values := entry.Attributes[index.Attribute]
	if len(values) == 0 {
		return nil
	}
	return [][]byte{[]byte(values[0])}
}
