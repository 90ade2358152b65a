package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/redis"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/RetinaGuard/pkg/errors"
)

var scanTime = time.Date(2024, 9, 1, 6, 0, 0, 0, time.UTC)

func newLocks(t *testing.T) (*miniredis.Miniredis, redis.LockFactory) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewClientWithRedis(rdb, "rg:", logging.NewNopLogger())
	return mr, redis.NewLockFactory(client, logging.NewNopLogger())
}

func sampleFindings() map[string][]risk.AbnormalTrendFinding {
	return map[string][]risk.AbnormalTrendFinding{
		"c-1": {
			{PatientID: "p-1", TrendType: risk.TrendSuddenSpike, DetectedAt: scanTime},
			{PatientID: "p-2", TrendType: risk.TrendConsistentHigh, DetectedAt: scanTime},
		},
	}
}

func newScheduler(t *testing.T, scanner *mockScanner, cfg SchedulerConfig, opts ...SchedulerOption) *ScanScheduler {
	t.Helper()
	opts = append([]SchedulerOption{WithSchedulerClock(risk.FixedClock{T: scanTime})}, opts...)
	s, err := NewScanScheduler(scanner, cfg, logging.NewNopLogger(), opts...)
	require.NoError(t, err)
	return s
}

func TestScanClinic_PublishesAndArchives(t *testing.T) {
	mr, locks := newLocks(t)
	scanner := &mockScanner{findings: sampleFindings()}
	pub := &mockPublisher{}
	archive := &mockArchive{}
	s := newScheduler(t, scanner, SchedulerConfig{LookbackDays: 14},
		WithLocks(locks), WithFindingsPublisher(pub), WithReportArchive(archive))

	res := s.ScanClinic(context.Background(), "c-1")
	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Findings)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, "scans/c-1/20240901T060000Z.json", res.ArchiveKey)

	assert.Equal(t, []int{14}, scanner.lookback)
	require.Len(t, archive.reports, 1)
	assert.Equal(t, 14, archive.reports[0].LookbackDays)
	assert.False(t, mr.Exists("rg:lock:trend-scan:c-1"))
}

func TestScanClinic_NoFindingsStillArchived(t *testing.T) {
	pub := &mockPublisher{}
	archive := &mockArchive{}
	s := newScheduler(t, &mockScanner{}, SchedulerConfig{}, WithFindingsPublisher(pub), WithReportArchive(archive))

	res := s.ScanClinic(context.Background(), "c-9")
	require.NoError(t, res.Err)
	assert.Zero(t, res.Findings)
	assert.Empty(t, pub.published)
	assert.Len(t, archive.reports, 1)
}

func TestScanClinic_SkipsWhenLocked(t *testing.T) {
	_, locks := newLocks(t)
	holder := locks.NewMutex("trend-scan:c-1", redis.WithLockTTL(time.Minute))
	ok, err := holder.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	scanner := &mockScanner{findings: sampleFindings()}
	s := newScheduler(t, scanner, SchedulerConfig{}, WithLocks(locks))

	res := s.ScanClinic(context.Background(), "c-1")
	assert.True(t, res.Skipped)
	assert.NoError(t, res.Err)
	assert.Empty(t, scanner.clinics)
}

func TestScanClinic_Failures(t *testing.T) {
	s := newScheduler(t, &mockScanner{err: context.Canceled}, SchedulerConfig{})
	res := s.ScanClinic(context.Background(), "c-1")
	assert.True(t, pkgerrors.IsCode(res.Err, pkgerrors.ErrCodeTrendScanFailed))

	archive := &mockArchive{err: pkgerrors.New(pkgerrors.ErrCodeTrendArchiveFailed, "upload failed")}
	pub := &mockPublisher{}
	s = newScheduler(t, &mockScanner{findings: sampleFindings()}, SchedulerConfig{}, WithFindingsPublisher(pub), WithReportArchive(archive))
	res = s.ScanClinic(context.Background(), "c-1")
	assert.True(t, pkgerrors.IsCode(res.Err, pkgerrors.ErrCodeTrendArchiveFailed))
	assert.Equal(t, 2, res.Published)
	assert.Empty(t, res.ArchiveKey)

	s = newScheduler(t, &mockScanner{findings: sampleFindings()}, SchedulerConfig{}, WithFindingsPublisher(&mockPublisher{err: errors.New("down")}))
	res = s.ScanClinic(context.Background(), "c-1")
	assert.Error(t, res.Err)
	assert.Equal(t, 2, res.Findings)
}

func TestRunOnce(t *testing.T) {
	scanner := &mockScanner{findings: sampleFindings()}
	s := newScheduler(t, scanner, SchedulerConfig{Clinics: []string{"c-1", "c-2"}})

	results := s.RunOnce(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "c-1", results[0].ClinicID)
	assert.Equal(t, 2, results[0].Findings)
	assert.Equal(t, 0, results[1].Findings)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, s.RunOnce(ctx))
}

func TestNewScanScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScanScheduler(&mockScanner{}, SchedulerConfig{Schedule: "every tuesday"}, logging.NewNopLogger())
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestScanScheduler_StopCancelsRunningScan(t *testing.T) {
	scanner := &mockScanner{block: make(chan struct{})}
	s := newScheduler(t, scanner, SchedulerConfig{Schedule: "@every 1h", Clinics: []string{"c-1"}})
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(stopCtx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scan did not observe cancellation")
	}
}
