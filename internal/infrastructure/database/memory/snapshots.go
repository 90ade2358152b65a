package memory

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// SnapshotProvider implements risk.SnapshotProvider over a map of completed
// analyses.
type SnapshotProvider struct {
	mu       sync.RWMutex
	analyses map[string]risk.AnalysisSnapshot
}

var _ risk.SnapshotProvider = (*SnapshotProvider)(nil)

func NewSnapshotProvider(snaps ...risk.AnalysisSnapshot) *SnapshotProvider {
	p := &SnapshotProvider{analyses: make(map[string]risk.AnalysisSnapshot, len(snaps))}
	for _, s := range snaps {
		p.analyses[s.AnalysisID] = s
	}
	return p
}

// Put adds or replaces a completed analysis.
func (p *SnapshotProvider) Put(s risk.AnalysisSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analyses[s.AnalysisID] = s
}

func (p *SnapshotProvider) GetAnalysisSnapshot(_ context.Context, analysisID string) (*risk.AnalysisSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.analyses[analysisID]
	if !ok {
		return nil, errors.New(errors.ErrCodeAnalysisNotFound, "analysis not found").WithDetail(analysisID)
	}
	return &s, nil
}

func (p *SnapshotProvider) GetCompletedAnalyses(_ context.Context, patientID string, since, until time.Time) ([]risk.AnalysisSnapshot, error) {
	return p.filter(func(s risk.AnalysisSnapshot) bool {
		return s.PatientID == patientID && inWindow(s.CompletedAt, since, until)
	}), nil
}

func (p *SnapshotProvider) GetCompletedAnalysesForClinic(_ context.Context, clinicID string, since, until time.Time) ([]risk.AnalysisSnapshot, error) {
	return p.filter(func(s risk.AnalysisSnapshot) bool {
		return risk.Deref(s.ClinicID) == clinicID && inWindow(s.CompletedAt, since, until)
	}), nil
}

func inWindow(t, since, until time.Time) bool {
	return !t.Before(since) && !t.After(until)
}

func (p *SnapshotProvider) filter(keep func(risk.AnalysisSnapshot) bool) []risk.AnalysisSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]risk.AnalysisSnapshot, 0)
	for _, s := range p.analyses {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
