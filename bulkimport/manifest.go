package bulkimport

import (
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Manifest is the on-disk record the orchestrator writes once per suffix,
// listing which indexes were promoted to trusted and whether the temp
// directory for that suffix was fully cleaned up. It carries no semantics
// the store itself doesn't already enforce (MarkIndexTrusted is the real
// authority) — it exists only so the CLI and tests can assert spec §8
// property 5 ("every index has been marked trusted") without reaching
// into store internals.
type Manifest struct {
	Suffix         string   `json:"suffix"`
	TrustedIndexes []string `json:"trusted_indexes"`
	RunFilesClean  bool     `json:"run_files_clean"`
}

var manifestJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteManifest serializes one Manifest to <dir>/<suffix>.manifest.json.
func WriteManifest(dir string, m Manifest) error {
	sort.Strings(m.TrustedIndexes)

	b, err := manifestJSON.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding import manifest")
	}

	path := manifestPath(dir, m.Suffix)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing manifest %s", path)
	}
	return nil
}

// ReadManifest loads a previously written manifest. Only the tests call
// it; neither the orchestrator nor the CLI reads a manifest back.
func ReadManifest(dir, suffix string) (*Manifest, error) {
	b, err := os.ReadFile(manifestPath(dir, suffix))
	if err != nil {
		return nil, errors.Wrap(err, "reading import manifest")
	}
	var m Manifest
	if err := manifestJSON.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "decoding import manifest")
	}
	return &m, nil
}

func manifestPath(dir, suffix string) string {
	return filepath.Join(dir, sanitizeSuffixName(suffix)+".manifest.json")
}

// sanitizeSuffixName strips path separators out of a suffix's base-name
// string so it's safe to use as a file name component.
func sanitizeSuffixName(suffix string) string {
	out := make([]rune, 0, len(suffix))
	for _, r := range suffix {
		switch r {
		case '/', '\\', os.PathSeparator:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
