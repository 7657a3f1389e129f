package bulkimport

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var entrySourceJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonEntryRecord is one line of a JSONLEntrySource file: a name and its
// suffix base, both given leaf-first like Name.Components, plus a flat
// attribute map.
type jsonEntryRecord struct {
	Name       []string            `json:"name"`
	Base       []string            `json:"base"`
	Attributes map[string][]string `json:"attributes"`
}

// JSONLEntrySource reads newline-delimited JSON entry records from a
// file — the small file-backed EntrySource named in SPEC_FULL.md's CLI
// wrapper section, standing in for a real LDIF parser (out of scope per
// spec §1) in the cmd/ldifimport example wrapper. The orchestrator tests
// use an in-memory source instead.
type JSONLEntrySource struct {
	mu   sync.Mutex
	f    *os.File
	scan *bufio.Scanner
	done bool
}

// OpenJSONLEntrySource opens path for streaming; the caller must Close it
// once the import run is finished with it.
func OpenJSONLEntrySource(path string) (*JSONLEntrySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening entry source %s", path)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &JSONLEntrySource{f: f, scan: scanner}, nil
}

// Next implements EntrySource, decoding one non-blank line at a time.
func (s *JSONLEntrySource) Next(ctx context.Context) (Entry, Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Entry{}, Name{}, ctx.Err()
	default:
	}

	for {
		if s.done {
			return Entry{}, Name{}, io.EOF
		}
		if !s.scan.Scan() {
			s.done = true
			if err := s.scan.Err(); err != nil {
				return Entry{}, Name{}, errors.Wrap(err, "reading entry source")
			}
			return Entry{}, Name{}, io.EOF
		}

		line := s.scan.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec jsonEntryRecord
		if err := entrySourceJSON.Unmarshal(line, &rec); err != nil {
			return Entry{}, Name{}, errors.Wrap(err, "decoding entry record")
		}

		entry := Entry{Name: Name{Components: rec.Name}, Attributes: rec.Attributes}
		base := Name{Components: rec.Base}
		return entry, base, nil
	}
}

func (s *JSONLEntrySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
