package worker

import (
	"context"
	"sync"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/storage/minio"
)

type evalCall struct {
	analysisID string
	patientID  string
	clinicID   *string
}

type mockEvaluator struct {
	mu      sync.Mutex
	calls   []evalCall
	created bool
	err     error
}

func (m *mockEvaluator) CheckAndGenerateAlert(_ context.Context, analysisID, patientID string, clinicID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, evalCall{analysisID, patientID, clinicID})
	return m.created, m.err
}

type mockScanner struct {
	mu       sync.Mutex
	findings map[string][]risk.AbnormalTrendFinding
	err      error
	clinics  []string
	lookback []int
	block    chan struct{}
}

func (m *mockScanner) DetectAbnormalTrends(ctx context.Context, clinicID string, lookbackDays int) ([]risk.AbnormalTrendFinding, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clinics = append(m.clinics, clinicID)
	m.lookback = append(m.lookback, lookbackDays)
	if m.err != nil {
		return nil, m.err
	}
	return m.findings[clinicID], nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published map[string]int
	err       error
}

func (m *mockPublisher) PublishFindings(_ context.Context, clinicID string, findings []risk.AbnormalTrendFinding) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.published == nil {
		m.published = make(map[string]int)
	}
	m.published[clinicID] += len(findings)
	return len(findings), nil
}

type mockArchive struct {
	mu      sync.Mutex
	reports []*minio.ScanReport
	err     error
}

func (m *mockArchive) Archive(_ context.Context, r *minio.ScanReport) (*minio.ArchivedReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.reports = append(m.reports, r)
	return &minio.ArchivedReport{Key: minio.ScanKey(r.ClinicID, r.GeneratedAt)}, nil
}
