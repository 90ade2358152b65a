package client

import "time"

// Risk levels as they appear on the wire.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
)

type ConditionRisk struct {
	Level string   `json:"level,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// RiskSnapshot is the analysis outcome copied onto an alert.
type RiskSnapshot struct {
	OverallRiskLevel            string        `json:"overallRiskLevel"`
	RiskScore                   *float64      `json:"riskScore,omitempty"`
	Hypertension                ConditionRisk `json:"hypertension"`
	Diabetes                    ConditionRisk `json:"diabetes"`
	Stroke                      ConditionRisk `json:"stroke"`
	DiabeticRetinopathyDetected bool          `json:"diabeticRetinopathyDetected"`
	DiabeticRetinopathySeverity *string       `json:"diabeticRetinopathySeverity,omitempty"`
	HealthWarnings              string        `json:"healthWarnings,omitempty"`
	ImageID                     string        `json:"imageId,omitempty"`
	CompletedAt                 time.Time     `json:"analysisCompletedAt"`
}

type Alert struct {
	ID               string       `json:"id"`
	PatientID        string       `json:"patientId"`
	ClinicID         *string      `json:"clinicId,omitempty"`
	DoctorID         *string      `json:"doctorId,omitempty"`
	SourceAnalysisID string       `json:"sourceAnalysisId"`
	Risk             RiskSnapshot `json:"risk"`
	CreatedAt        time.Time    `json:"createdAt"`
	Acknowledged     bool         `json:"acknowledged"`
	AcknowledgedAt   *time.Time   `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy   *string      `json:"acknowledgedBy,omitempty"`

	PatientName string `json:"patientName"`
	ClinicName  string `json:"clinicName,omitempty"`
	DoctorName  string `json:"doctorName,omitempty"`
}

type ClinicSummary struct {
	ClinicID            string    `json:"clinicId"`
	HighCount           int       `json:"highCount"`
	CriticalCount       int       `json:"criticalCount"`
	UnacknowledgedCount int       `json:"unacknowledgedCount"`
	LastAlertDate       time.Time `json:"lastAlertDate"`
	RecentAlerts        []Alert   `json:"recentAlerts"`
}

type HighRiskPatient struct {
	PatientID   string   `json:"patientId"`
	PatientName string   `json:"patientName"`
	RiskLevel   string   `json:"riskLevel"`
	RiskScore   *float64 `json:"riskScore,omitempty"`
	LatestAlert Alert    `json:"latestAlert"`
}

type RiskTrendPoint struct {
	AnalysisID string    `json:"analysisId"`
	Date       time.Time `json:"date"`
	RiskLevel  string    `json:"riskLevel"`
	RiskScore  *float64  `json:"riskScore,omitempty"`
}

type PatientRiskTrend struct {
	PatientID             string           `json:"patientId"`
	Points                []RiskTrendPoint `json:"points"`
	CurrentRiskLevel      string           `json:"currentRiskLevel"`
	CurrentRiskScore      *float64         `json:"currentRiskScore,omitempty"`
	TrendDirection        string           `json:"trendDirection"`
	DaysSinceLastAnalysis int              `json:"daysSinceLastAnalysis"`
	TotalAnalyses         int              `json:"totalAnalyses"`
}

type AbnormalTrendFinding struct {
	PatientID           string           `json:"patientId"`
	TrendType           string           `json:"trendType"`
	Description         string           `json:"description"`
	PreviousRiskLevel   string           `json:"previousRiskLevel"`
	PreviousRiskScore   *float64         `json:"previousRiskScore,omitempty"`
	CurrentRiskLevel    string           `json:"currentRiskLevel"`
	CurrentRiskScore    *float64         `json:"currentRiskScore,omitempty"`
	DaysBetweenAnalyses int              `json:"daysBetweenAnalyses"`
	DetectedAt          time.Time        `json:"detectedAt"`
	History             []RiskTrendPoint `json:"history"`
}
