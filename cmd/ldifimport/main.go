// Command ldifimport drives one bulk-import run from the command line: it
// loads a YAML configuration (spec §6), builds an Orchestrator, and prints
// the final summary. It reads entries from a JSONLEntrySource rather than
// real LDIF — parsing LDIF itself is out of scope (spec §1); this wrapper
// exists to exercise the package end-to-end, not to replace an LDIF parser.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"

	"github.com/WrenArchiver/opendj-sdk/bulkimport"
)

func main() {
	var (
		configPath  string
		entriesPath string
		basePath    string
		target      string
	)

	flag.StringVar(&configPath, "config", "", "path to the bulk-import YAML configuration")
	flag.StringVar(&entriesPath, "entries", "", "path to a JSONL entry file (see bulkimport.JSONLEntrySource)")
	flag.StringVar(&basePath, "base", "", "the single suffix base DN this run loads")
	flag.StringVar(&target, "target-container", "default", "name of the target container to swap into")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if err := run(logger, configPath, entriesPath, basePath, target); err != nil {
		level.Error(logger).Log("msg", "import failed", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, configPath, entriesPath, basePath, target string) error {
	if configPath == "" || entriesPath == "" || basePath == "" {
		return fmt.Errorf("-config, -entries and -base are all required")
	}

	cfg, err := bulkimport.LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := newExampleStore(cfg)
	if err != nil {
		return err
	}

	source, err := bulkimport.OpenJSONLEntrySource(entriesPath)
	if err != nil {
		return err
	}
	defer source.Close()

	suffix := &bulkimport.Suffix{
		Base:            bulkimport.ParseName(basePath),
		TargetContainer: target,
	}

	o := &bulkimport.Orchestrator{
		Config:          cfg,
		Registry:        store.registry,
		Store:           store,
		Source:          source,
		Suffixes:        []*bulkimport.Suffix{suffix},
		Logger:          logger,
		AvailableMemory: availableMemory(),
	}

	started := time.Now()
	result, err := o.Run(context.Background())
	if err != nil {
		return err
	}

	printSummary(os.Stdout, result, time.Since(started))
	return nil
}

func printSummary(w io.Writer, result *bulkimport.Result, elapsed time.Duration) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"entries read", fmt.Sprint(result.Stats.Read.Load())})
	table.Append([]string{"entries loaded", fmt.Sprint(result.Stats.Loaded.Load())})
	table.Append([]string{"entries migrated", fmt.Sprint(result.Stats.Migrated.Load())})
	table.Append([]string{"entries ignored", fmt.Sprint(result.Stats.Ignored.Load())})
	table.Append([]string{"entries rejected", fmt.Sprint(result.Rejects.Total())})
	table.Append([]string{"elapsed", elapsed.Round(time.Millisecond).String()})
	table.Render()
}

// availableMemory is a placeholder until the wrapper grows real cgroup
// awareness; 256MiB is comfortably above the planner's 16MiB floor for
// the small fixtures this wrapper is exercised against.
func availableMemory() int64 {
	return 256 * 1024 * 1024
}
