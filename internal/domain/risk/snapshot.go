package risk

import (
	"context"
	"time"
)

// ConditionRisk is the per-condition output of the scoring model.
type ConditionRisk struct {
	Level *RiskLevel `json:"level,omitempty"`
	Score *float64   `json:"score,omitempty"`
}

// AnalysisSnapshot is the read-only view of one completed retinal analysis.
type AnalysisSnapshot struct {
	AnalysisID string  `json:"analysisId"`
	PatientID  string  `json:"patientId"`
	ClinicID   *string `json:"clinicId,omitempty"`
	DoctorID   *string `json:"doctorId,omitempty"`
	ImageID    string  `json:"imageId,omitempty"`

	OverallRiskLevel RiskLevel `json:"overallRiskLevel"`
	RiskScore        *float64  `json:"riskScore,omitempty"`

	Hypertension ConditionRisk `json:"hypertension"`
	Diabetes     ConditionRisk `json:"diabetes"`
	Stroke       ConditionRisk `json:"stroke"`

	DiabeticRetinopathyDetected bool    `json:"diabeticRetinopathyDetected"`
	DiabeticRetinopathySeverity *string `json:"diabeticRetinopathySeverity,omitempty"`
	HealthWarnings              string  `json:"healthWarnings,omitempty"`

	CompletedAt time.Time `json:"completedAt"`
}

// TrendPoint projects the snapshot onto a risk trend point.
func (s AnalysisSnapshot) TrendPoint() RiskTrendPoint {
	return RiskTrendPoint{
		AnalysisID: s.AnalysisID,
		Date:       s.CompletedAt,
		RiskLevel:  s.OverallRiskLevel,
		RiskScore:  s.RiskScore,
	}
}

// SnapshotProvider reads completed analyses. Implementations return an error
// satisfying errors.IsNotFound when an analysis does not exist.
type SnapshotProvider interface {
	GetAnalysisSnapshot(ctx context.Context, analysisID string) (*AnalysisSnapshot, error)

	// GetCompletedAnalyses returns the patient's completed analyses with
	// since <= CompletedAt <= until, in any order.
	GetCompletedAnalyses(ctx context.Context, patientID string, since, until time.Time) ([]AnalysisSnapshot, error)

	// GetCompletedAnalysesForClinic returns every completed analysis of the
	// clinic with since <= CompletedAt <= until. PatientID identifies the
	// owner.
	GetCompletedAnalysesForClinic(ctx context.Context, clinicID string, since, until time.Time) ([]AnalysisSnapshot, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// MinTime is the sentinel "no date" value.
var MinTime = time.Time{}

// Float64Ptr and LevelPtr are helpers for optional fields.
func Float64Ptr(v float64) *float64 { return &v }

func LevelPtr(v RiskLevel) *RiskLevel { return &v }

func StringPtr(v string) *string { return &v }

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
