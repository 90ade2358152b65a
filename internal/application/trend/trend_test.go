package trend

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/memory"
	"github.com/turtacn/RetinaGuard/internal/testutil"
)

var now = time.Date(2024, 9, 30, 9, 0, 0, 0, time.UTC)

// flakySnapshots injects read failures into the in-memory provider.
type flakySnapshots struct {
	*memory.SnapshotProvider
	patientErr error
	clinicErr  error
	calls      int64
}

func (f *flakySnapshots) GetCompletedAnalyses(ctx context.Context, pid string, since, until time.Time) ([]risk.AnalysisSnapshot, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.patientErr != nil {
		return nil, f.patientErr
	}
	return f.SnapshotProvider.GetCompletedAnalyses(ctx, pid, since, until)
}

func (f *flakySnapshots) GetCompletedAnalysesForClinic(ctx context.Context, cid string, since, until time.Time) ([]risk.AnalysisSnapshot, error) {
	if f.clinicErr != nil {
		return nil, f.clinicErr
	}
	return f.SnapshotProvider.GetCompletedAnalysesForClinic(ctx, cid, since, until)
}

type visit struct {
	daysAgo int
	level   risk.RiskLevel
	score   *float64
}

func score(v float64) *float64 { return risk.Float64Ptr(v) }

var seq int64

func addPatient(p *memory.SnapshotProvider, clinicID, patientID string, visits ...visit) {
	for _, v := range visits {
		n := atomic.AddInt64(&seq, 1)
		p.Put(risk.AnalysisSnapshot{
			AnalysisID:       fmt.Sprintf("%s-%d", patientID, n),
			PatientID:        patientID,
			ClinicID:         risk.StringPtr(clinicID),
			OverallRiskLevel: v.level,
			RiskScore:        v.score,
			CompletedAt:      now.AddDate(0, 0, -v.daysAgo),
		})
	}
}

func newServices(p risk.SnapshotProvider) (Analyzer, Scanner) {
	log := testutil.NewMockLogger()
	clock := risk.FixedClock{T: now}
	a := NewAnalyzer(p, log, WithAnalyzerClock(clock))
	s := NewScanner(p, a, log, ScannerConfig{Concurrency: 3}, WithScannerClock(clock))
	return a, s
}

// ─── Analyzer ──────────────────────────────────────────────────────────────

func TestGetPatientRiskTrend(t *testing.T) {
	p := memory.NewSnapshotProvider()
	addPatient(p, "c-1", "p-1",
		visit{40, risk.RiskLevelLow, score(20)},
		visit{30, risk.RiskLevelLow, score(22)},
		visit{20, risk.RiskLevelHigh, score(60)},
		visit{3, risk.RiskLevelHigh, score(65)},
	)
	a, _ := newServices(p)

	tr, err := a.GetPatientRiskTrend(context.Background(), "p-1", 0)

	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, 4, tr.TotalAnalyses)
	assert.Equal(t, risk.TrendWorsening, tr.TrendDirection)
	assert.Equal(t, risk.RiskLevelHigh, tr.CurrentRiskLevel)
	assert.Equal(t, 65.0, *tr.CurrentRiskScore)
	assert.Equal(t, 3, tr.DaysSinceLastAnalysis)
	assert.Equal(t, 20.0, *tr.Points[0].RiskScore)
}

func TestGetPatientRiskTrend_LookbackWindow(t *testing.T) {
	p := memory.NewSnapshotProvider()
	addPatient(p, "c-1", "p-1",
		visit{120, risk.RiskLevelLow, score(10)},
		visit{80, risk.RiskLevelLow, score(15)},
		visit{10, risk.RiskLevelLow, score(18)},
	)
	a, _ := newServices(p)

	def, err := a.GetPatientRiskTrend(context.Background(), "p-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, def.TotalAnalyses, "default window is 90 days")

	short, err := a.GetPatientRiskTrend(context.Background(), "p-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, short.TotalAnalyses)
	assert.Equal(t, risk.TrendStable, short.TrendDirection)
}

func TestGetPatientRiskTrend_NoAnalyses(t *testing.T) {
	a, _ := newServices(memory.NewSnapshotProvider())
	tr, err := a.GetPatientRiskTrend(context.Background(), "nobody", 90)
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestGetPatientRiskTrend_ReadFailureDegrades(t *testing.T) {
	p := &flakySnapshots{SnapshotProvider: memory.NewSnapshotProvider(), patientErr: stderrors.New("db down")}
	log := testutil.NewMockLogger()
	a := NewAnalyzer(p, log, WithAnalyzerClock(risk.FixedClock{T: now}))

	tr, err := a.GetPatientRiskTrend(context.Background(), "p-1", 90)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.True(t, log.HasMessage("error", "failed to read completed analyses"))
}

func TestGetPatientRiskTrend_CancelledContext(t *testing.T) {
	a, _ := newServices(memory.NewSnapshotProvider())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.GetPatientRiskTrend(ctx, "p-1", 90)
	assert.ErrorIs(t, err, context.Canceled)
}

// ─── Scanner ───────────────────────────────────────────────────────────────

func TestDetectAbnormalTrends(t *testing.T) {
	p := memory.NewSnapshotProvider()
	addPatient(p, "c-1", "rapid",
		visit{20, risk.RiskLevelMedium, score(30)},
		visit{2, risk.RiskLevelMedium, score(50)},
	)
	addPatient(p, "c-1", "almost-rapid",
		visit{20, risk.RiskLevelMedium, score(30)},
		visit{2, risk.RiskLevelMedium, score(49)},
	)
	addPatient(p, "c-1", "spike",
		visit{15, risk.RiskLevelLow, score(40)},
		visit{1, risk.RiskLevelHigh, score(55)},
	)
	addPatient(p, "c-1", "steady-high",
		visit{25, risk.RiskLevelHigh, score(70)},
		visit{15, risk.RiskLevelCritical, score(74)},
		visit{5, risk.RiskLevelHigh, score(71)},
	)
	addPatient(p, "c-1", "two-high",
		visit{25, risk.RiskLevelHigh, score(70)},
		visit{5, risk.RiskLevelHigh, score(71)},
	)
	addPatient(p, "c-1", "single", visit{3, risk.RiskLevelCritical, score(95)})
	addPatient(p, "c-1", "old",
		visit{60, risk.RiskLevelLow, score(10)},
		visit{50, risk.RiskLevelCritical, score(90)},
	)
	addPatient(p, "c-2", "other-clinic",
		visit{20, risk.RiskLevelLow, score(10)},
		visit{2, risk.RiskLevelCritical, score(90)},
	)
	_, s := newServices(p)

	findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 0)
	require.NoError(t, err)

	got := make(map[string]risk.TrendType)
	for _, f := range findings {
		got[f.PatientID] = f.TrendType
		assert.Equal(t, now, f.DetectedAt)
		assert.GreaterOrEqual(t, len(f.History), 2)
	}
	assert.Equal(t, map[string]risk.TrendType{
		"rapid":       risk.TrendRapidDeterioration,
		"spike":       risk.TrendSuddenSpike,
		"steady-high": risk.TrendConsistentHigh,
	}, got)

	// Equal detection times fall back to patient id order.
	require.Len(t, findings, 3)
	assert.Equal(t, []string{"rapid", "spike", "steady-high"},
		[]string{findings[0].PatientID, findings[1].PatientID, findings[2].PatientID})
}

func TestDetectAbnormalTrends_OneFindingPerPatient(t *testing.T) {
	p := memory.NewSnapshotProvider()
	// Matches all three rules.
	addPatient(p, "c-1", "p-1",
		visit{20, risk.RiskLevelHigh, score(40)},
		visit{10, risk.RiskLevelHigh, score(50)},
		visit{1, risk.RiskLevelCritical, score(70)},
	)
	_, s := newServices(p)

	findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 30)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, risk.TrendRapidDeterioration, findings[0].TrendType)
}

func TestDetectAbnormalTrends_ReadFailureDegrades(t *testing.T) {
	p := &flakySnapshots{SnapshotProvider: memory.NewSnapshotProvider(), clinicErr: stderrors.New("db down")}
	_, s := newServices(p)

	findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 30)
	require.NoError(t, err)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestDetectAbnormalTrends_AnalyzerFailureSkipsPatient(t *testing.T) {
	p := &flakySnapshots{SnapshotProvider: memory.NewSnapshotProvider()}
	addPatient(p.SnapshotProvider, "c-1", "p-1",
		visit{20, risk.RiskLevelLow, score(10)},
		visit{2, risk.RiskLevelCritical, score(90)},
	)
	p.patientErr = stderrors.New("timeout")
	_, s := newServices(p)

	findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 30)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.EqualValues(t, 1, atomic.LoadInt64(&p.calls))
}

func TestDetectAbnormalTrends_CancelledContext(t *testing.T) {
	p := memory.NewSnapshotProvider()
	for i := 0; i < 10; i++ {
		addPatient(p, "c-1", fmt.Sprintf("p-%d", i),
			visit{20, risk.RiskLevelLow, score(10)},
			visit{2, risk.RiskLevelCritical, score(90)},
		)
	}
	_, s := newServices(p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.DetectAbnormalTrends(ctx, "c-1", 30)
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingAnalyzer records the peak number of concurrent calls.
type blockingAnalyzer struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	inner    Analyzer
}

func (b *blockingAnalyzer) GetPatientRiskTrend(ctx context.Context, pid string, days int) (*risk.PatientRiskTrend, error) {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.peak {
		b.peak = b.inFlight
	}
	b.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()
	return b.inner.GetPatientRiskTrend(ctx, pid, days)
}

func TestDetectAbnormalTrends_BoundedConcurrency(t *testing.T) {
	p := memory.NewSnapshotProvider()
	for i := 0; i < 12; i++ {
		addPatient(p, "c-1", fmt.Sprintf("p-%02d", i),
			visit{20, risk.RiskLevelLow, score(10)},
			visit{2, risk.RiskLevelCritical, score(90)},
		)
	}
	log := testutil.NewMockLogger()
	clock := risk.FixedClock{T: now}
	ba := &blockingAnalyzer{inner: NewAnalyzer(p, log, WithAnalyzerClock(clock))}
	s := NewScanner(p, ba, log, ScannerConfig{Concurrency: 2}, WithScannerClock(clock))

	findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 30)
	require.NoError(t, err)
	assert.Len(t, findings, 12)
	assert.LessOrEqual(t, ba.peak, 2)
}

// tickingClock advances by a millisecond on every read.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func TestDetectAbnormalTrends_SingleDetectionInstant(t *testing.T) {
	p := memory.NewSnapshotProvider()
	want := make([]string, 0, 40)
	for i := 39; i >= 0; i-- {
		addPatient(p, "c-1", fmt.Sprintf("p-%02d", i),
			visit{20, risk.RiskLevelLow, score(10)},
			visit{2, risk.RiskLevelCritical, score(90)},
		)
	}
	for i := 0; i < 40; i++ {
		want = append(want, fmt.Sprintf("p-%02d", i))
	}
	log := testutil.NewMockLogger()
	clock := &tickingClock{t: now}
	a := NewAnalyzer(p, log, WithAnalyzerClock(clock))
	s := NewScanner(p, a, log, ScannerConfig{Concurrency: 8}, WithScannerClock(clock))

	for run := 0; run < 5; run++ {
		findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 30)
		require.NoError(t, err)
		require.Len(t, findings, 40)

		got := make([]string, len(findings))
		for i, f := range findings {
			got[i] = f.PatientID
			assert.True(t, f.DetectedAt.Equal(findings[0].DetectedAt), "findings of one scan share a detection time")
		}
		assert.Equal(t, want, got)
	}
}

func TestGetPatientRiskTrend_ExcludesFutureAnalyses(t *testing.T) {
	p := memory.NewSnapshotProvider()
	addPatient(p, "c-1", "p-1",
		visit{10, risk.RiskLevelLow, score(20)},
		visit{5, risk.RiskLevelLow, score(22)},
		visit{-2, risk.RiskLevelCritical, score(95)},
	)
	a, s := newServices(p)

	tr, err := a.GetPatientRiskTrend(context.Background(), "p-1", 30)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, 2, tr.TotalAnalyses)
	assert.Equal(t, risk.RiskLevelLow, tr.CurrentRiskLevel)
	assert.Equal(t, 5, tr.DaysSinceLastAnalysis)

	findings, err := s.DetectAbnormalTrends(context.Background(), "c-1", 30)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSortFindings(t *testing.T) {
	fs := []risk.AbnormalTrendFinding{
		{PatientID: "b", DetectedAt: now},
		{PatientID: "a", DetectedAt: now},
		{PatientID: "z", DetectedAt: now.Add(time.Second)},
	}
	SortFindings(fs)
	assert.Equal(t, "z", fs[0].PatientID)
	assert.Equal(t, "a", fs[1].PatientID)
	assert.Equal(t, "b", fs[2].PatientID)
}
