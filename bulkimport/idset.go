package bulkimport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// undefinedSentinel marks an UNDEFINED posting list in both the run-file
// wire format (spec §6) and IDSet's own primary serialization (spec §4.B).
const undefinedSentinel = 0xFFFFFFFF

// IDSet is a sorted set of EntryIDs with an entry-limit L and a
// "maintain count" flag (spec §4.B). Once a set crosses L it becomes
// UNDEFINED and never returns to DEFINED, even if it is later merged with
// an empty set.
type IDSet struct {
	limit         int
	maintainCount bool

	defined bool
	ids     []uint64 // strictly ascending while defined

	count uint64 // valid once !defined; only meaningful if maintainCount
}

// NewIDSet creates an empty, DEFINED set bounded by limit. maintainCount
// controls whether an UNDEFINED set keeps counting additions (some
// indexes track "how many" even past the point of "which ones").
func NewIDSet(limit int, maintainCount bool) *IDSet {
	return &IDSet{
		limit:         limit,
		maintainCount: maintainCount,
		defined:       true,
	}
}

func (s *IDSet) IsDefined() bool { return s.defined }

// SoleMember returns the set's one member when it is DEFINED and
// contains exactly one ID — the shape every accepted naming-index key
// merges down to, since duplicate names are rejected before ingest ever
// reaches Phase 2.
func (s *IDSet) SoleMember() (uint64, bool) {
	if !s.defined || len(s.ids) != 1 {
		return 0, false
	}
	return s.ids[0], true
}

// Size returns the exact cardinality while DEFINED, or the maintained
// count while UNDEFINED (0 if counting isn't enabled — the set no longer
// knows its true size).
func (s *IDSet) Size() int {
	if s.defined {
		return len(s.ids)
	}
	if s.maintainCount {
		return int(s.count)
	}
	return 0
}

// Add inserts id, preserving ascending order and deduplicating. Once
// UNDEFINED, Add is just a counter increment (if maintainCount).
func (s *IDSet) Add(id uint64) {
	if !s.defined {
		if s.maintainCount {
			s.count++
		}
		return
	}

	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return // already present
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id

	if s.maintainCount {
		s.count++
	}

	if len(s.ids) > s.limit {
		s.becomeUndefined()
	}
}

func (s *IDSet) becomeUndefined() {
	if !s.maintainCount {
		s.count = 0
	} else if s.defined {
		s.count = uint64(len(s.ids))
	}
	s.ids = nil
	s.defined = false
}

// Merge unions other into s. The result is UNDEFINED if either operand is
// UNDEFINED or the union would exceed the limit.
func (s *IDSet) Merge(other *IDSet) {
	if other == nil {
		return
	}

	if !s.defined || !other.defined {
		if s.maintainCount && other.maintainCount {
			s.count += other.count
		} else {
			s.maintainCount = s.maintainCount && other.maintainCount
			s.count = 0
		}
		s.defined = false
		s.ids = nil
		return
	}

	merged := make([]uint64, 0, len(s.ids)+len(other.ids))
	i, j := 0, 0
	for i < len(s.ids) && j < len(other.ids) {
		switch {
		case s.ids[i] < other.ids[j]:
			merged = append(merged, s.ids[i])
			i++
		case s.ids[i] > other.ids[j]:
			merged = append(merged, other.ids[j])
			j++
		default:
			merged = append(merged, s.ids[i])
			i++
			j++
		}
	}
	merged = append(merged, s.ids[i:]...)
	merged = append(merged, other.ids[j:]...)

	s.ids = merged
	if len(s.ids) > s.limit {
		s.becomeUndefined()
	}
}

// Subtract removes other's members from s. Used by KeyValueStore
// implementations applying a Delete call against a stored posting list
// (spec §4.I: "apply deletions first, then insertions"). If either side
// is UNDEFINED the result is UNDEFINED too — an UNDEFINED set's true
// membership is unknown, so neither "what remains" nor "what to remove"
// can be computed exactly.
func (s *IDSet) Subtract(other *IDSet) {
	if other == nil {
		return
	}
	if !s.defined || !other.defined {
		s.becomeUndefined()
		return
	}

	remove := make(map[uint64]bool, len(other.ids))
	for _, id := range other.ids {
		remove[id] = true
	}
	kept := s.ids[:0]
	for _, id := range s.ids {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	s.ids = kept
}

// Serialize writes IDSet's primary on-disk form: a length-prefixed run of
// u64 IDs, or the sentinel length with an optional trailing count when
// UNDEFINED (spec §4.B). This is the format used for the posting list as
// stored in the target index, distinct from the leaner run-file insert/
// delete encoding in encodeRunSet (spec §6), which never carries a count.
func (s *IDSet) Serialize(w io.Writer) error {
	if !s.defined {
		if err := writeUint32(w, undefinedSentinel); err != nil {
			return err
		}
		hasCount := byte(0)
		if s.maintainCount {
			hasCount = 1
		}
		if _, err := w.Write([]byte{hasCount}); err != nil {
			return err
		}
		if s.maintainCount {
			return writeUint64(w, s.count)
		}
		return nil
	}

	if err := writeUint32(w, uint32(len(s.ids))); err != nil {
		return err
	}
	for _, id := range s.ids {
		if err := writeUint64(w, id); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeIDSet reconstructs an IDSet written by Serialize.
func DeserializeIDSet(r io.Reader, limit int, maintainCount bool) (*IDSet, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	s := &IDSet{limit: limit, maintainCount: maintainCount}

	if length == undefinedSentinel {
		var hasCount [1]byte
		if _, err := io.ReadFull(r, hasCount[:]); err != nil {
			return nil, err
		}
		s.defined = false
		if hasCount[0] == 1 {
			count, err := readUint64(r)
			if err != nil {
				return nil, err
			}
			s.count = count
		}
		return s, nil
	}

	s.defined = true
	s.ids = make([]uint64, length)
	for i := range s.ids {
		id, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		s.ids[i] = id
	}
	return s, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// encodeRunSet writes the run-file insert/delete set encoding from spec
// §6: `len:4 | id:8*(len/8)`, with the sentinel length meaning UNDEFINED
// and no following IDs — no optional count here, unlike Serialize.
func encodeRunSet(w *bufio.Writer, s *IDSet) error {
	if !s.defined {
		return writeUint32(w, undefinedSentinel)
	}
	if err := writeUint32(w, uint32(len(s.ids))); err != nil {
		return err
	}
	for _, id := range s.ids {
		if err := writeUint64(w, id); err != nil {
			return err
		}
	}
	return nil
}

// decodeRunSet is encodeRunSet's inverse.
func decodeRunSet(r io.Reader, limit int, maintainCount bool) (*IDSet, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	s := &IDSet{limit: limit, maintainCount: maintainCount}
	if length == undefinedSentinel {
		s.defined = false
		return s, nil
	}
	s.defined = true
	s.ids = make([]uint64, length)
	for i := range s.ids {
		id, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("decoding id set member %d/%d: %w", i, length, err)
		}
		s.ids[i] = id
	}
	return s, nil
}
