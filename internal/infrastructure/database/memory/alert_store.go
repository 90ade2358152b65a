// Package memory provides mutex-guarded in-process adapters for the alert
// store, the analysis snapshot provider and the display-name directory. They
// back local development mode and application-level tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// AlertStore implements alert.Store. The source-analysis index is the
// uniqueness boundary, checked under the same lock as the insert.
type AlertStore struct {
	mu         sync.RWMutex
	byID       map[string]*alert.Alert
	byAnalysis map[string]string
	dir        alert.DirectoryResolver
}

var _ alert.Store = (*AlertStore)(nil)

// NewAlertStore returns an empty store. dir may be nil.
func NewAlertStore(dir alert.DirectoryResolver) *AlertStore {
	return &AlertStore{
		byID:       make(map[string]*alert.Alert),
		byAnalysis: make(map[string]string),
		dir:        dir,
	}
}

func (s *AlertStore) Exists(_ context.Context, sourceAnalysisID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byAnalysis[sourceAnalysisID]
	return ok, nil
}

func (s *AlertStore) Create(_ context.Context, a *alert.Alert) (string, error) {
	if a == nil || a.ID == "" || a.SourceAnalysisID == "" {
		return "", errors.InvalidParam("alert id and source analysis id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byAnalysis[a.SourceAnalysisID]; dup {
		return "", errors.New(errors.ErrCodeAlertDuplicate, "alert already exists for analysis").
			WithDetail(a.SourceAnalysisID)
	}
	if _, dup := s.byID[a.ID]; dup {
		return "", errors.Conflict("alert id already in use").WithDetail(a.ID)
	}
	s.byID[a.ID] = a.Clone()
	s.byAnalysis[a.SourceAnalysisID] = a.ID
	return a.ID, nil
}

// Get returns a copy of the alert, for tests and the CLI.
func (s *AlertStore) Get(_ context.Context, alertID string) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[alertID]
	if !ok {
		return nil, errors.New(errors.ErrCodeAlertNotFound, "alert not found").WithDetail(alertID)
	}
	return a.Clone(), nil
}

// Len reports the number of stored alerts.
func (s *AlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *AlertStore) ListForClinic(ctx context.Context, clinicID string, f alert.Filter) ([]alert.View, error) {
	return s.list(ctx, f, func(a *alert.Alert) bool { return risk.Deref(a.ClinicID) == clinicID })
}

func (s *AlertStore) ListForDoctor(ctx context.Context, doctorID string, f alert.Filter) ([]alert.View, error) {
	return s.list(ctx, f, func(a *alert.Alert) bool { return risk.Deref(a.DoctorID) == doctorID })
}

func (s *AlertStore) list(ctx context.Context, f alert.Filter, match func(*alert.Alert) bool) ([]alert.View, error) {
	s.mu.RLock()
	matched := make([]*alert.Alert, 0)
	for _, a := range s.byID {
		if !match(a) || !a.Risk.OverallRiskLevel.IsHighRisk() {
			continue
		}
		if f.UnacknowledgedOnly && a.Acknowledged {
			continue
		}
		matched = append(matched, a.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	views := make([]alert.View, len(matched))
	for i, a := range matched {
		views[i] = s.view(ctx, a)
	}
	return views, nil
}

func (s *AlertStore) Acknowledge(_ context.Context, alertID, by string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[alertID]
	if !ok {
		return false, nil
	}
	return a.Acknowledge(by, at), nil
}

func (s *AlertStore) Summary(ctx context.Context, clinicID string, recent int) (*alert.ClinicSummary, error) {
	out := alert.EmptySummary(clinicID)

	s.mu.RLock()
	var all []*alert.Alert
	for _, a := range s.byID {
		if risk.Deref(a.ClinicID) != clinicID {
			continue
		}
		switch a.Risk.OverallRiskLevel {
		case risk.RiskLevelHigh:
			out.HighCount++
		case risk.RiskLevelCritical:
			out.CriticalCount++
		default:
			continue
		}
		if !a.Acknowledged {
			out.UnacknowledgedCount++
		}
		if a.CreatedAt.After(out.LastAlertDate) {
			out.LastAlertDate = a.CreatedAt
		}
		all = append(all, a.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(all)
	if recent > 0 && len(all) > recent {
		all = all[:recent]
	}
	for _, a := range all {
		out.RecentAlerts = append(out.RecentAlerts, s.view(ctx, a))
	}
	return out, nil
}

func (s *AlertStore) LatestPerPatient(ctx context.Context, clinicID string, level *risk.RiskLevel) ([]alert.HighRiskPatient, error) {
	s.mu.RLock()
	latest := make(map[string]*alert.Alert)
	for _, a := range s.byID {
		if risk.Deref(a.ClinicID) != clinicID || !a.Risk.OverallRiskLevel.IsHighRisk() {
			continue
		}
		cur, ok := latest[a.PatientID]
		if !ok || newer(a, cur) {
			latest[a.PatientID] = a
		}
	}
	picked := make([]*alert.Alert, 0, len(latest))
	for _, a := range latest {
		if level != nil && a.Risk.OverallRiskLevel != *level {
			continue
		}
		picked = append(picked, a.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(picked)
	out := make([]alert.HighRiskPatient, len(picked))
	for i, a := range picked {
		v := s.view(ctx, a)
		out[i] = alert.HighRiskPatient{
			PatientID:   a.PatientID,
			PatientName: v.PatientName,
			RiskLevel:   a.Risk.OverallRiskLevel,
			RiskScore:   a.Risk.RiskScore,
			LatestAlert: v,
		}
	}
	return out, nil
}

func (s *AlertStore) view(ctx context.Context, a *alert.Alert) alert.View {
	v := alert.View{Alert: *a}
	if s.dir == nil {
		return v
	}
	v.PatientName = s.dir.PatientName(ctx, a.PatientID)
	if a.ClinicID != nil {
		v.ClinicName = s.dir.ClinicName(ctx, *a.ClinicID)
	}
	if a.DoctorID != nil {
		v.DoctorName = s.dir.DoctorName(ctx, *a.DoctorID)
	}
	return v
}

// newer orders by analysis completion, then creation, then id.
func newer(a, b *alert.Alert) bool {
	if !a.Risk.CompletedAt.Equal(b.Risk.CompletedAt) {
		return a.Risk.CompletedAt.After(b.Risk.CompletedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(as []*alert.Alert) {
	sort.Slice(as, func(i, j int) bool { return newer(as[i], as[j]) })
}
