package bulkimport

import (
	"bufio"
	"io"
)

// Op tags whether a record contributes to a key's insert-set or
// delete-set (spec §3 Record).
type Op uint8

const (
	OpInsert Op = iota
	OpDelete
)

// Record is the unit exchanged between import/migration workers and the
// sort buffer/spill-run machinery (spec §3). Key ordering is defined by
// the target index's Comparator, which may be plain byte-lexicographic or
// the naming index's reverse-component comparator (see ToSortedBytes).
type Record struct {
	IndexID  uint32
	Key      []byte
	EntryID  uint64
	Op       Op
}

// writeRunRecord appends one flushed, duplicate-collapsed run-file record
// in the big-endian wire format from spec §6:
//
//	indexID(u32) | keyLen(u32) | key(bytes) | insertLen(u32) | insertIDs(u64*n) | deleteLen(u32) | deleteIDs(u64*m)
func writeRunRecord(w *bufio.Writer, indexID uint32, key []byte, insert, del *IDSet) error {
	if err := writeUint32(w, indexID); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(key))); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	if err := encodeRunSet(w, insert); err != nil {
		return err
	}
	return encodeRunSet(w, del)
}

// runRecord is one record read back from a spill-run file during Phase 2.
type runRecord struct {
	IndexID uint32
	Key     []byte
	Insert  *IDSet
	Delete  *IDSet
}

// readRunRecord reads one record, returning io.EOF (unwrapped) when the
// run file is exhausted. limit/maintainCount parameterize the decoded
// IDSets so they carry the target index's entry-limit forward into the
// merge stage.
func readRunRecord(r io.Reader, limit int, maintainCount bool) (*runRecord, error) {
	indexID, err := readUint32(r)
	if err != nil {
		return nil, err // io.EOF on a clean boundary
	}

	keyLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	insert, err := decodeRunSet(r, limit, maintainCount)
	if err != nil {
		return nil, err
	}
	del, err := decodeRunSet(r, limit, maintainCount)
	if err != nil {
		return nil, err
	}

	return &runRecord{IndexID: indexID, Key: key, Insert: insert, Delete: del}, nil
}
