package alert

import (
	"context"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
)

// View is an alert joined with current display data.
type View struct {
	Alert
	PatientName string `json:"patientName"`
	ClinicName  string `json:"clinicName,omitempty"`
	DoctorName  string `json:"doctorName,omitempty"`
}

// ClinicSummary aggregates a clinic's alerts. LastAlertDate is risk.MinTime
// when the clinic has none.
type ClinicSummary struct {
	ClinicID            string    `json:"clinicId"`
	HighCount           int       `json:"highCount"`
	CriticalCount       int       `json:"criticalCount"`
	UnacknowledgedCount int       `json:"unacknowledgedCount"`
	LastAlertDate       time.Time `json:"lastAlertDate"`
	RecentAlerts        []View    `json:"recentAlerts"`
}

// EmptySummary is the well-formed summary of a clinic without alerts.
func EmptySummary(clinicID string) *ClinicSummary {
	return &ClinicSummary{
		ClinicID:      clinicID,
		LastAlertDate: risk.MinTime,
		RecentAlerts:  []View{},
	}
}

// HighRiskPatient is the latest alert of one patient.
type HighRiskPatient struct {
	PatientID   string         `json:"patientId"`
	PatientName string         `json:"patientName"`
	RiskLevel   risk.RiskLevel `json:"riskLevel"`
	RiskScore   *float64       `json:"riskScore,omitempty"`
	LatestAlert View           `json:"latestAlert"`
}

// Filter narrows list queries.
type Filter struct {
	UnacknowledgedOnly bool
	Limit              int
}

// Store persists alerts. List methods return only High and Critical alerts,
// newest analysis completion first.
type Store interface {
	Exists(ctx context.Context, sourceAnalysisID string) (bool, error)

	// Create inserts a. It returns an error satisfying errors.IsConflict when
	// an alert for the same source analysis already exists.
	Create(ctx context.Context, a *Alert) (string, error)

	ListForClinic(ctx context.Context, clinicID string, f Filter) ([]View, error)
	ListForDoctor(ctx context.Context, doctorID string, f Filter) ([]View, error)

	// Acknowledge returns false when the alert does not exist or was already
	// acknowledged.
	Acknowledge(ctx context.Context, alertID, by string, at time.Time) (bool, error)

	Summary(ctx context.Context, clinicID string, recent int) (*ClinicSummary, error)

	// LatestPerPatient returns the newest alert of each patient in the clinic,
	// optionally restricted to one risk level.
	LatestPerPatient(ctx context.Context, clinicID string, level *risk.RiskLevel) ([]HighRiskPatient, error)
}

// DirectoryResolver resolves display names for stores that cannot join.
type DirectoryResolver interface {
	PatientName(ctx context.Context, patientID string) string
	ClinicName(ctx context.Context, clinicID string) string
	DoctorName(ctx context.Context, doctorID string) string
}
