package bulkimport

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the recognized bulk-import options from spec §6. It is
// decoded once, at the start of a run, from a flat YAML document — there
// is no dynamic reload story for a one-shot loader.
type Config struct {
	// ThreadCount is the worker count W. Zero means "auto": 2*runtime.NumCPU().
	ThreadCount int `yaml:"thread-count"`

	TempDirectory string `yaml:"temp-directory"`

	SkipNameValidation     bool `yaml:"skip-name-validation"`
	AppendToExisting       bool `yaml:"append-to-existing"`
	ReplaceExistingEntries bool `yaml:"replace-existing-entries"`
	ClearBackend           bool `yaml:"clear-backend"`

	IncludeBranches []string `yaml:"include-branches"`
	ExcludeBranches []string `yaml:"exclude-branches"`

	// DirectBufferSize, when non-zero, is the size in bytes of a single
	// off-heap slab Phase 2 carves into per-merger read-ahead caches
	// instead of letting each merger allocate its own on-heap cache.
	DirectBufferSize int64 `yaml:"direct-buffer-size"`

	// RunCompression turns on S2 framing for spill-run files (domain-stack
	// addition, not part of the original recognized-options list — ambient
	// default true, exposed so tests can turn it off to inspect raw bytes).
	RunCompression *bool `yaml:"run-compression"`
}

func (c *Config) compressRuns() bool {
	return c.RunCompression == nil || *c.RunCompression
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the Configuration error kind of spec §7: bad thread
// count, missing temp dir, contradictory include/exclude.
func (c *Config) Validate() error {
	if c.ThreadCount < 0 {
		return newConfigError("thread-count must be >= 0 (0 means auto)")
	}

	if c.TempDirectory == "" {
		return newConfigError("temp-directory is required")
	}

	included := map[string]bool{}
	for _, b := range c.IncludeBranches {
		included[b] = true
	}
	for _, b := range c.ExcludeBranches {
		if included[b] {
			return newConfigError("branch %q cannot be both included and excluded", b)
		}
	}

	return nil
}

func (c *Config) threadCountOrAuto(numCPU int) int {
	if c.ThreadCount > 0 {
		return c.ThreadCount
	}
	return 2 * numCPU
}
