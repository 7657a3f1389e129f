package bulkimport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"
)

// runInfo records one spill run's location so Phase 2 can open it for
// merging (spec §4.E: "the writer maintains an in-memory index of the runs
// it has produced").
type runInfo struct {
	Path       string
	Compressed bool
}

// RunWriter drains a single IndexKey's sorted buffers into a sequence of
// spill-run files on temp storage, collapsing consecutive equal (key,
// indexID) records into one aggregated insert/delete pair before writing
// (spec §4.C: the buffer never aggregates, "that is the downstream
// writer's job"; spec §4.E).
//
// Grounded on friggdb's headBlock.Complete, which also drains an
// already-ordered in-memory structure out to a single ordered file on
// disk (wal_head_block.go) — generalized here to emit many runs instead
// of one, and to collapse duplicates as it streams rather than assuming
// the source is already duplicate-free.
type RunWriter struct {
	key      IndexKey
	limit    int
	maintain bool
	dir      string
	compress bool

	mu   sync.Mutex
	runs []runInfo

	buffers <-chan *SortBuffer
}

// NewRunWriter creates a writer for one IndexKey, reading sorted (or
// poison) buffers from buffers until a poison buffer arrives.
func NewRunWriter(key IndexKey, limit int, maintainCount bool, tempDir string, compress bool, buffers <-chan *SortBuffer) *RunWriter {
	return &RunWriter{
		key:      key,
		limit:    limit,
		maintain: maintainCount,
		dir:      tempDir,
		compress: compress,
		buffers:  buffers,
	}
}

// Run drains buffers until poison, spilling one run file per buffer. The
// completed run list is read afterwards via Runs.
func (rw *RunWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return newCancellationError(ctx.Err())
		case buf, ok := <-rw.buffers:
			if !ok {
				return nil
			}
			if buf.IsPoison() {
				return nil
			}
			if err := rw.spill(buf); err != nil {
				return newStoreError(err)
			}
		}
	}
}

// spill writes one SORTED buffer out as a single run file, collapsing
// consecutive equal (key, indexID) records along the way.
func (rw *RunWriter) spill(buf *SortBuffer) error {
	name := fmt.Sprintf("%s.%s.run", rw.key.Name(), uuid.New().String())
	path := filepath.Join(rw.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating spill run %s", path)
	}
	defer f.Close()

	var dst io.Writer = f
	var s2w *s2.Writer
	if rw.compress {
		s2w = s2.NewWriter(f)
		dst = s2w
	}
	w := bufio.NewWriter(dst)

	cur := buf.NewCursor()

	var (
		haveCurrent bool
		curKey      []byte
		curIndexID  uint32
		insert      *IDSet
		del         *IDSet
	)

	flush := func() error {
		if !haveCurrent {
			return nil
		}
		return writeRunRecord(w, curIndexID, curKey, insert, del)
	}

	for {
		key, indexID, entryID, op, ok := cur.Next()
		if !ok {
			break
		}

		if !(haveCurrent && indexID == curIndexID && bytes.Equal(key, curKey)) {
			if err := flush(); err != nil {
				return err
			}

			haveCurrent = true
			curKey = append([]byte(nil), key...)
			curIndexID = indexID
			insert = NewIDSet(rw.limit, rw.maintain)
			del = NewIDSet(rw.limit, rw.maintain)
		}

		switch op {
		case OpInsert:
			insert.Add(entryID)
		case OpDelete:
			del.Add(entryID)
		}
	}

	if err := flush(); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flushing spill run")
	}
	if s2w != nil {
		if err := s2w.Close(); err != nil {
			return errors.Wrap(err, "closing compressed spill run")
		}
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "syncing spill run")
	}

	rw.mu.Lock()
	rw.runs = append(rw.runs, runInfo{Path: path, Compressed: rw.compress})
	rw.mu.Unlock()

	return nil
}

// Runs returns the run list accumulated so far. Safe to call after Run
// returns; the Orchestrator waits for writer completion before reading it.
func (rw *RunWriter) Runs() []runInfo {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	out := make([]runInfo, len(rw.runs))
	copy(out, rw.runs)
	return out
}
