package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/observability"
	"github.com/platinummonkey/sms/pkg/storage"
)

func newScheduler(t *testing.T) (*Scheduler, *observability.Metrics) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(logger, metrics, time.Second), metrics
}

func TestAddRejectsDuplicatesAndBadSchedules(t *testing.T) {
	s, _ := newScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "a", Schedule: "@hourly", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "a", Schedule: "@daily", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "b", Schedule: "not a schedule", Run: noop}))
	assert.Equal(t, []string{"a"}, s.Jobs())
}

func TestRunNowRecordsOutcome(t *testing.T) {
	s, metrics := newScheduler(t)
	require.NoError(t, s.Add(Job{Name: "ok", Schedule: "@hourly", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Job{Name: "bad", Schedule: "@hourly", Run: func(context.Context) error { return errors.New("boom") }}))

	require.NoError(t, s.RunNow(context.Background(), "ok"))
	assert.EqualError(t, s.RunNow(context.Background(), "bad"), "boom")
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SchedulerRunsTotal.WithLabelValues("ok", observability.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SchedulerRunsTotal.WithLabelValues("bad", observability.ResultFailure)))
}

func TestRunNowRecoversPanics(t *testing.T) {
	s, metrics := newScheduler(t)
	require.NoError(t, s.Add(Job{Name: "panics", Schedule: "@hourly", Run: func(context.Context) error {
		panic("nil map")
	}}))

	err := s.RunNow(context.Background(), "panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil map")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SchedulerRunsTotal.WithLabelValues("panics", observability.ResultFailure)))
}

func TestRunNowAppliesTimeout(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := New(logger, nil, 20*time.Millisecond)
	require.NoError(t, s.Add(Job{Name: "slow", Schedule: "@hourly", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestStartStopIdempotent(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Stop(ctx))
	s.Start()
	s.Start()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

type fakeTokens struct{ calls int }

func (f *fakeTokens) PruneRefreshTokens(context.Context) (int64, error) {
	f.calls++
	return 2, nil
}

type fakeAudit struct{ before time.Time }

func (f *fakeAudit) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 0, nil
}

func TestMaintenanceJobsSelection(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	assert.Empty(t, Maintenance{}.Jobs(logger))

	m := Maintenance{Tokens: &fakeTokens{}, Audit: &fakeAudit{}}
	var names []string
	for _, j := range m.Jobs(logger) {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{JobTokenPrune}, names, "audit retention of zero keeps everything")
}

func TestMaintenanceJobsRun(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	objects, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, objects.PutObject(ctx, "exports/old.csv", strings.NewReader("a"), "text/csv"))
	require.NoError(t, objects.PutObject(ctx, "exports/new.csv", strings.NewReader("b"), "text/csv"))
	require.NoError(t, objects.PutObject(ctx, "other/old.csv", strings.NewReader("c"), "text/csv"))
	old := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(objects.Root(), "exports", "old.csv"), old, old))
	require.NoError(t, os.Chtimes(filepath.Join(objects.Root(), "other", "old.csv"), old, old))
	require.NoError(t, os.Chtimes(filepath.Join(objects.Root(), "exports", "new.csv"), now, now))

	tokens := &fakeTokens{}
	auditPruner := &fakeAudit{}
	m := Maintenance{
		Exports:        objects,
		ExportPrefix:   "exports/",
		ExportMaxAge:   24 * time.Hour,
		Tokens:         tokens,
		Audit:          auditPruner,
		AuditRetention: 90 * 24 * time.Hour,
		Now:            func() time.Time { return now },
	}

	s, _ := newScheduler(t)
	for _, j := range m.Jobs(logger) {
		require.NoError(t, s.Add(j))
	}
	names := s.Jobs()
	sort.Strings(names)
	assert.Equal(t, []string{JobAuditRetention, JobExportCleanup, JobTokenPrune}, names)

	for _, name := range names {
		require.NoError(t, s.RunNow(ctx, name))
	}

	left, err := objects.ListObjects(ctx, "")
	require.NoError(t, err)
	var keys []string
	for _, o := range left {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"exports/new.csv", "other/old.csv"}, keys)
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, now.Add(-90*24*time.Hour), auditPruner.before)
}
