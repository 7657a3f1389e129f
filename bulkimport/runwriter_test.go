package bulkimport

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAllRunRecords(t *testing.T, path string, limit int) []*runRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []*runRecord
	for {
		rec, err := readRunRecord(f, limit, false)
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

func TestRunWriterCollapsesDuplicateKeys(t *testing.T) {
	dir := t.TempDir()

	buf := NewSortBuffer(1 << 16)
	buf.Put(1, []byte("a"), 10, OpInsert)
	buf.Put(1, []byte("a"), 11, OpInsert)
	buf.Put(1, []byte("a"), 10, OpDelete)
	buf.Put(1, []byte("b"), 20, OpInsert)
	buf.SetComparator(nil)
	buf.Sort()

	ch := make(chan *SortBuffer, 2)
	ch <- buf
	ch <- NewPoisonBuffer()
	close(ch)

	rw := NewRunWriter(IndexKey{Attribute: "cn", Kind: IndexEquality}, 1000, false, dir, false, ch)
	require.NoError(t, rw.Run(context.Background()))

	runs := rw.Runs()
	require.Len(t, runs, 1)

	records := readAllRunRecords(t, runs[0].Path, 1000)
	require.Len(t, records, 2)

	require.Equal(t, "a", string(records[0].Key))
	require.Equal(t, []uint64{10, 11}, records[0].Insert.ids)
	require.Equal(t, []uint64{10}, records[0].Delete.ids)

	require.Equal(t, "b", string(records[1].Key))
	require.Equal(t, []uint64{20}, records[1].Insert.ids)
	require.Equal(t, 0, records[1].Delete.Size())
}

func TestRunWriterCompressesWhenConfigured(t *testing.T) {
	dir := t.TempDir()

	buf := NewSortBuffer(1 << 16)
	buf.Put(1, []byte("x"), 1, OpInsert)
	buf.Sort()

	ch := make(chan *SortBuffer, 2)
	ch <- buf
	ch <- NewPoisonBuffer()
	close(ch)

	rw := NewRunWriter(IndexKey{Attribute: "sn", Kind: IndexEquality}, 1000, false, dir, true, ch)
	require.NoError(t, rw.Run(context.Background()))

	runs := rw.Runs()
	require.Len(t, runs, 1)
	require.True(t, runs[0].Compressed)

	info, err := os.Stat(runs[0].Path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
