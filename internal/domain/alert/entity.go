// Package alert models the high-risk alert raised for one completed analysis
// and the persistence port used to store and query it.
package alert

import (
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
)

// RiskSnapshot is the copy of every risk field taken when the alert is
// created. Later changes to the analysis do not affect it.
type RiskSnapshot struct {
	OverallRiskLevel risk.RiskLevel `json:"overallRiskLevel"`
	RiskScore        *float64       `json:"riskScore,omitempty"`

	Hypertension risk.ConditionRisk `json:"hypertension"`
	Diabetes     risk.ConditionRisk `json:"diabetes"`
	Stroke       risk.ConditionRisk `json:"stroke"`

	DiabeticRetinopathyDetected bool    `json:"diabeticRetinopathyDetected"`
	DiabeticRetinopathySeverity *string `json:"diabeticRetinopathySeverity,omitempty"`
	HealthWarnings              string  `json:"healthWarnings,omitempty"`

	ImageID     string    `json:"imageId,omitempty"`
	CompletedAt time.Time `json:"analysisCompletedAt"`
}

// SnapshotOf copies the risk fields of s.
func SnapshotOf(s *risk.AnalysisSnapshot) RiskSnapshot {
	return RiskSnapshot{
		OverallRiskLevel:            s.OverallRiskLevel,
		RiskScore:                   copyFloat(s.RiskScore),
		Hypertension:                copyCondition(s.Hypertension),
		Diabetes:                    copyCondition(s.Diabetes),
		Stroke:                      copyCondition(s.Stroke),
		DiabeticRetinopathyDetected: s.DiabeticRetinopathyDetected,
		DiabeticRetinopathySeverity: copyString(s.DiabeticRetinopathySeverity),
		HealthWarnings:              s.HealthWarnings,
		ImageID:                     s.ImageID,
		CompletedAt:                 s.CompletedAt,
	}
}

// Alert is raised at most once per source analysis. Its only mutation is the
// one-way acknowledgement.
type Alert struct {
	ID               string       `json:"id"`
	PatientID        string       `json:"patientId"`
	ClinicID         *string      `json:"clinicId,omitempty"`
	DoctorID         *string      `json:"doctorId,omitempty"`
	SourceAnalysisID string       `json:"sourceAnalysisId"`
	Risk             RiskSnapshot `json:"risk"`
	CreatedAt        time.Time    `json:"createdAt"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy *string    `json:"acknowledgedBy,omitempty"`
}

// NewAlert builds an unacknowledged alert for s. clinicID overrides the
// snapshot's clinic when non-empty.
func NewAlert(id string, s *risk.AnalysisSnapshot, clinicID *string, now time.Time) *Alert {
	resolved := copyString(s.ClinicID)
	if clinicID != nil && *clinicID != "" {
		resolved = copyString(clinicID)
	}
	return &Alert{
		ID:               id,
		PatientID:        s.PatientID,
		ClinicID:         resolved,
		DoctorID:         copyString(s.DoctorID),
		SourceAnalysisID: s.AnalysisID,
		Risk:             SnapshotOf(s),
		CreatedAt:        now,
	}
}

// Acknowledge records that by reviewed the alert. It returns false, leaving
// the alert unchanged, when it was already acknowledged.
func (a *Alert) Acknowledge(by string, at time.Time) bool {
	if a.Acknowledged {
		return false
	}
	a.Acknowledged = true
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = &by
	return true
}

// Clone returns a deep copy.
func (a *Alert) Clone() *Alert {
	c := *a
	c.ClinicID = copyString(a.ClinicID)
	c.DoctorID = copyString(a.DoctorID)
	c.AcknowledgedBy = copyString(a.AcknowledgedBy)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	c.Risk.RiskScore = copyFloat(a.Risk.RiskScore)
	c.Risk.Hypertension = copyCondition(a.Risk.Hypertension)
	c.Risk.Diabetes = copyCondition(a.Risk.Diabetes)
	c.Risk.Stroke = copyCondition(a.Risk.Stroke)
	c.Risk.DiabeticRetinopathySeverity = copyString(a.Risk.DiabeticRetinopathySeverity)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyCondition(c risk.ConditionRisk) risk.ConditionRisk {
	out := risk.ConditionRisk{Score: copyFloat(c.Score)}
	if c.Level != nil {
		l := *c.Level
		out.Level = &l
	}
	return out
}
