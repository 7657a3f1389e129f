package bulkimport

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/WrenArchiver/opendj-sdk/bulkimport/pool"
)

// Orchestrator is component K: it sequences the two phases, owns every
// thread pool, and performs the container swap and trust-marking that
// commit a run (spec §4.K).
type Orchestrator struct {
	Config   *Config
	Registry IndexerRegistry
	Store    KeyValueStore
	Source   EntrySource
	Suffixes []*Suffix
	Parents  ParentIndex // nil unless append-to-existing

	// MigrationSource opens a migration entry stream reading from
	// suffix.SourceContainer. Required whenever a suffix has a non-empty
	// SourceContainer and is not clear-only.
	MigrationSource func(ctx context.Context, suffix *Suffix) (SourceEntries, error)

	Logger          log.Logger
	AvailableMemory int64

	// ManifestDir, if set, receives one Manifest file per suffix on success.
	ManifestDir string
}

// Result is what a completed (or cancelled) run reports back.
type Result struct {
	Stats   *RunStats
	Rejects *RejectCounters
}

// Run executes the full two-phase import for every configured suffix
// (spec §4.K's sequencing). On any task failure, every pool is
// cancelled, temp files are removed on a best-effort basis, and the
// first non-recoverable error is returned; the target store is left
// with its indexes still marked not-trusted.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	for _, s := range o.Suffixes {
		s.Normalize()
	}

	numIndexes := len(o.allIndexKeys())
	if numIndexes == 0 {
		numIndexes = 1
	}
	workerCount := o.Config.threadCountOrAuto(runtime.NumCPU())

	plan, err := PlanMemory(o.AvailableMemory, numIndexes, workerCount)
	if err != nil {
		return nil, err
	}

	bufferCount := 2 * numIndexes * workerCount
	if bufferCount <= 0 {
		bufferCount = 1
	}
	bufPool := NewBufferPool(bufferCount, plan.SortBufferBytes)

	sortExec := NewSortExecutor(ctx, o.Store, o.Config.TempDirectory, o.Config.compressRuns(), workerCount)
	run := NewImportRun(o.Suffixes, o.Config.SkipNameValidation, o.Registry, o.Store, o.Parents, bufPool, sortExec)

	var reporter *ProgressReporter
	var stopProgress func()
	if o.Logger != nil {
		reporter = NewProgressReporter(o.Logger, 10*time.Second, run.Stats, run.Rejects)
		stopProgress = reporter.Start(ctx)
	}
	defer func() {
		if stopProgress != nil {
			stopProgress()
		}
	}()

	shadows, err := o.openShadowContainers(ctx)
	if err != nil {
		sortExec.Close()
		return nil, err
	}

	cleanup := func() {
		os.RemoveAll(o.Config.TempDirectory)
	}

	if err := o.runMigrationStage(ctx, run, NotUnderIncludes); err != nil {
		bufPool.Abort()
		sortExec.Close()
		cleanup()
		return nil, err
	}

	if err := o.runImportStage(ctx, run, workerCount); err != nil {
		sortExec.Close()
		cleanup()
		return nil, err
	}

	if err := o.runMigrationStage(ctx, run, UnderExcludes); err != nil {
		bufPool.Abort()
		sortExec.Close()
		cleanup()
		return nil, err
	}

	runsByIndex, err := sortExec.Close()
	if err != nil {
		cleanup()
		return nil, newStoreError(err)
	}

	if err := o.runPhase2(ctx, run, runsByIndex, numIndexes, plan.SortBufferBytes); err != nil {
		cleanup()
		return nil, err
	}

	if err := o.markAllTrusted(ctx); err != nil {
		return nil, err
	}

	for _, s := range o.Suffixes {
		if err := o.swapContainer(ctx, s, shadows[s.Base.String()]); err != nil {
			return nil, newStoreError(err)
		}
	}

	cleanup()

	if o.ManifestDir != "" {
		if err := o.writeManifests(); err != nil {
			return nil, err
		}
	}

	if reporter != nil {
		reporter.Final()
	}

	return &Result{Stats: run.Stats, Rejects: run.Rejects}, nil
}

// allIndexKeys is the canonical set of indexes this run will write:
// the three structural indexes plus every suffix's declared attribute
// indexes, deduplicated by identity (spec §4.A: equality is (attribute,
// kind) only).
func (o *Orchestrator) allIndexKeys() []IndexKey {
	seen := map[indexKeyIdentity]IndexKey{}
	add := func(k IndexKey) {
		if _, ok := seen[k.identity()]; !ok {
			seen[k.identity()] = k
		}
	}
	add(IndexKey{Kind: IndexNaming})
	add(IndexKey{Kind: IndexChildren})
	add(IndexKey{Kind: IndexSubtree})
	for _, s := range o.Suffixes {
		for _, idx := range s.Indexes {
			add(idx)
		}
	}
	keys := make([]IndexKey, 0, len(seen))
	for _, k := range seen {
		keys = append(keys, k)
	}
	return keys
}

func (o *Orchestrator) needsMigration(s *Suffix) bool {
	return s.SourceContainer != "" && !s.IsClearOnly()
}

// openShadowContainers opens (and registers) a uniquely-named temporary
// container for every suffix, so Phase 1/2 writes land somewhere the
// orchestrator can atomically swap into place once the run has
// succeeded (spec "Container swap").
func (o *Orchestrator) openShadowContainers(ctx context.Context) (map[string]string, error) {
	names := make(map[string]string, len(o.Suffixes))
	for _, s := range o.Suffixes {
		name := "shadow-" + uuid.NewString()
		if _, err := o.Store.OpenContainer(ctx, s.Base, name); err != nil {
			return nil, newStoreError(errors.Wrapf(err, "opening shadow container for suffix %s", s.Base.String()))
		}
		if err := o.Store.RegisterContainer(ctx, s.Base, name); err != nil {
			return nil, newStoreError(errors.Wrapf(err, "registering shadow container for suffix %s", s.Base.String()))
		}
		names[s.Base.String()] = name
	}
	return names, nil
}

// runMigrationStage runs one MigrationWorker per suffix needing
// migration, concurrently, and waits for all of them — spec §4.K's
// "migrate-existing (single task)" / "migrate-excluded (single task)"
// steps, generalized across however many suffixes need migrating.
func (o *Orchestrator) runMigrationStage(ctx context.Context, run *ImportRun, filterFor func(*Suffix) func(Name) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range o.Suffixes {
		s := s
		if !o.needsMigration(s) {
			continue
		}
		g.Go(func() error {
			src, err := o.MigrationSource(gctx, s)
			if err != nil {
				return newResourceError(err)
			}
			w := &MigrationWorker{Run: run, Suffix: s, Source: src, Filter: filterFor(s)}
			return w.Task(gctx)
		})
	}
	return g.Wait()
}

// runImportStage runs exactly workerCount ImportWorkers contending over
// the shared entry source (spec §4.G, §5: "the import pool of exactly W
// workers competing over the parser").
func (o *Orchestrator) runImportStage(ctx context.Context, run *ImportRun, workerCount int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			w := &ImportWorker{Run: run, Source: o.Source}
			return w.Task(gctx)
		})
	}
	return g.Wait()
}

// runPhase2 merges every index's spill runs, bounded by a pool of size
// 2·N (spec §4.K, §5: "the index-write pool of 2·N workers ... reused
// for k-way mergers"). NAMING is special-cased: if skip-name-validation
// was set, its merge drives a NamingMerger per suffix instead of a plain
// ID-set flush.
//
// Every merger's read-ahead cache is sized from the Phase 2 memory
// budget (spec §4.D: "Phase 2 splits its separately-computed free-memory
// budget (0.50·M) equally among all spill runs ... floored at 4KiB,
// capped at buf_size"). When direct-buffer-size is configured (spec §6)
// a single off-heap-style slab is allocated once and carved into those
// same per-run caches instead of letting each merger allocate its own.
func (o *Orchestrator) runPhase2(ctx context.Context, run *ImportRun, runsByIndex map[IndexKey][]runInfo, numIndexes int, phase1BufSize int64) error {
	p := pool.New(ctx, "phase2-merge", 2*numIndexes, 2*numIndexes)

	totalRuns := 0
	for _, runs := range runsByIndex {
		totalRuns += len(runs)
	}

	var slab *directSlab
	var cacheBytes int64
	if o.Config.DirectBufferSize != 0 {
		slab = newDirectSlab(o.Config.DirectBufferSize)
		cacheBytes = DirectBufferPerRun(o.Config.DirectBufferSize, totalRuns, phase1BufSize)
	} else {
		cacheBytes = Phase2ReadAheadCache(o.AvailableMemory, totalRuns, phase1BufSize)
	}

	var namingMergers []*NamingMerger
	namingByBase := map[string]*NamingMerger{}
	if o.Config.SkipNameValidation {
		// In append-to-existing mode a missing parent may have been
		// committed by a prior run and never appear on this run's ancestor
		// stack at all; preload it once up front so findParent's cross-run
		// fallback is a map lookup instead of per-miss cursor scans.
		var existingNames map[string]uint64
		if o.Config.AppendToExisting {
			var err error
			existingNames, err = LoadExistingNames(ctx, o.Store, IndexKey{Kind: IndexNaming})
			if err != nil {
				p.Cancel()
				p.Close()
				return newStoreError(err)
			}
		}

		for _, s := range o.Suffixes {
			nm := NewNamingMerger(s.Base,
				IndexKey{Kind: IndexNaming}, IndexKey{Kind: IndexChildren}, IndexKey{Kind: IndexSubtree},
				o.Store.IndexEntryLimit(IndexKey{Kind: IndexChildren}), o.Store.MaintainCount(IndexKey{Kind: IndexChildren}),
				o.Store, run.Rejects)
			nm.Existing = existingNames
			namingByBase[s.Base.String()] = nm
			namingMergers = append(namingMergers, nm)
		}
	}

	router := func(name Name) *NamingMerger {
		var best *NamingMerger
		bestLen := -1
		for _, s := range o.Suffixes {
			if !name.Equal(s.Base) && !IsAncestorOf(s.Base, name) {
				continue
			}
			if len(s.Base.Components) > bestLen {
				best = namingByBase[s.Base.String()]
				bestLen = len(s.Base.Components)
			}
		}
		return best
	}

	for index, runs := range runsByIndex {
		index, runs := index, runs
		merger := &RunMerger{
			Index:         index,
			Runs:          runs,
			Limit:         o.Store.IndexEntryLimit(index),
			MaintainCount: o.Store.MaintainCount(index),
			Comparator:    o.Store.Comparator(index),
			Store:         o.Store,
			CacheBytes:    cacheBytes,
			Slab:          slab,
		}
		if index.Kind == IndexNaming && o.Config.SkipNameValidation {
			merger.NamingRouter = router
			merger.NamingMergers = namingMergers
		}
		if err := p.Submit(func(ctx context.Context) error {
			return merger.Merge(ctx)
		}); err != nil {
			p.Cancel()
			p.Close()
			return newStoreError(err)
		}
	}

	return p.Close()
}

func (o *Orchestrator) markAllTrusted(ctx context.Context) error {
	for _, idx := range o.allIndexKeys() {
		if err := o.Store.MarkIndexTrusted(ctx, idx); err != nil {
			return newStoreError(errors.Wrapf(err, "marking index %s trusted", idx.Name()))
		}
	}
	return nil
}

// swapContainer implements spec's "Container swap": lock the original,
// close and delete it, then unregister the shadow under its temporary
// name and re-register it as the canonical container. If the shadow
// turns out not to be there any more by the time we go to unregister it
// (the spec's "re-check shows the unregistered container is not the
// expected shadow"), the original registration is restored and the swap
// is skipped for that suffix.
func (o *Orchestrator) swapContainer(ctx context.Context, suffix *Suffix, shadowName string) error {
	shadowCheck, err := o.Store.OpenContainer(ctx, suffix.Base, shadowName)
	if err != nil {
		return errors.Wrapf(err, "re-opening shadow container before swap for suffix %s", suffix.Base.String())
	}
	shadowCheck.Close()

	original, err := o.Store.OpenContainer(ctx, suffix.Base, suffix.TargetContainer)
	if err != nil {
		return errors.Wrapf(err, "opening original container for suffix %s", suffix.Base.String())
	}
	if err := original.Lock(ctx); err != nil {
		return errors.Wrapf(err, "locking original container for suffix %s", suffix.Base.String())
	}
	defer original.Unlock()

	if err := original.Close(); err != nil {
		return errors.Wrapf(err, "closing original container for suffix %s", suffix.Base.String())
	}
	if err := original.Delete(); err != nil {
		return errors.Wrapf(err, "deleting original container for suffix %s", suffix.Base.String())
	}

	if err := o.Store.UnregisterContainer(ctx, suffix.Base, shadowName); err != nil {
		if regErr := o.Store.RegisterContainer(ctx, suffix.Base, suffix.TargetContainer); regErr != nil {
			return multierr.Append(errors.Wrap(err, "unregistering shadow container"), regErr)
		}
		return errors.Wrapf(err, "shadow container for suffix %s vanished mid-swap; original restored", suffix.Base.String())
	}

	return o.Store.RegisterContainer(ctx, suffix.Base, suffix.TargetContainer)
}

func (o *Orchestrator) writeManifests() error {
	trusted := make([]string, 0, len(o.allIndexKeys()))
	for _, idx := range o.allIndexKeys() {
		trusted = append(trusted, idx.Name())
	}
	for _, s := range o.Suffixes {
		m := Manifest{
			Suffix:         s.Base.String(),
			TrustedIndexes: trusted,
			RunFilesClean:  true,
		}
		if err := WriteManifest(o.ManifestDir, m); err != nil {
			return newResourceError(err)
		}
	}
	return nil
}
