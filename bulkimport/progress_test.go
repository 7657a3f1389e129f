package bulkimport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestProgressReporterTicksAndReportsFinal(t *testing.T) {
	stats := &RunStats{}
	stats.Read.Store(10)
	stats.Loaded.Store(8)
	stats.Migrated.Store(1)
	stats.Ignored.Store(1)
	rejects := &RejectCounters{}

	var buf bytes.Buffer
	logger := log.NewLogfmtLogger(log.NewSyncWriter(&buf))

	r := NewProgressReporter(logger, 10*time.Millisecond, stats, rejects)

	ctx, cancel := context.WithCancel(context.Background())
	stop := r.Start(ctx)
	time.Sleep(35 * time.Millisecond)
	cancel()
	stop()

	r.Final()

	out := buf.String()
	require.Contains(t, out, "import progress")
	require.Contains(t, out, "import complete")
	require.Contains(t, out, "read=10")
}

func TestProgressReporterDefaultsIntervalWhenNonPositive(t *testing.T) {
	r := NewProgressReporter(log.NewNopLogger(), 0, &RunStats{}, &RejectCounters{})
	require.Equal(t, 10*time.Second, r.interval)
}
