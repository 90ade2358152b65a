package risk

import (
	"fmt"
	"time"
)

// Thresholds for abnormal trajectories.
const (
	RapidDeteriorationDelta = 20.0
	SuddenSpikeJump         = 2
	ConsistentHighMinPoints = 3
)

// TrendType names an abnormal trajectory.
type TrendType string

const (
	TrendRapidDeterioration TrendType = "RapidDeterioration"
	TrendSuddenSpike        TrendType = "SuddenSpike"
	TrendConsistentHigh     TrendType = "ConsistentHigh"
)

// AbnormalTrendFinding is produced per patient per scan and never stored.
type AbnormalTrendFinding struct {
	PatientID           string           `json:"patientId"`
	TrendType           TrendType        `json:"trendType"`
	Description         string           `json:"description"`
	PreviousRiskLevel   RiskLevel        `json:"previousRiskLevel"`
	PreviousRiskScore   *float64         `json:"previousRiskScore,omitempty"`
	CurrentRiskLevel    RiskLevel        `json:"currentRiskLevel"`
	CurrentRiskScore    *float64         `json:"currentRiskScore,omitempty"`
	DaysBetweenAnalyses int              `json:"daysBetweenAnalyses"`
	DetectedAt          time.Time        `json:"detectedAt"`
	History             []RiskTrendPoint `json:"history"`
}

// ClassifyAbnormal applies the rules in fixed priority order and returns the
// first that matches: RapidDeterioration, then SuddenSpike, then
// ConsistentHigh. Points must be sorted ascending. A patient yields at most
// one type.
func ClassifyAbnormal(points []RiskTrendPoint) (TrendType, bool) {
	if len(points) < 2 {
		return "", false
	}
	first, last := points[0], points[len(points)-1]

	if first.RiskScore != nil && last.RiskScore != nil &&
		*last.RiskScore-*first.RiskScore >= RapidDeteriorationDelta {
		return TrendRapidDeterioration, true
	}

	if last.RiskLevel.Ordinal()-first.RiskLevel.Ordinal() >= SuddenSpikeJump {
		return TrendSuddenSpike, true
	}

	if len(points) >= ConsistentHighMinPoints && allHighRisk(points) {
		return TrendConsistentHigh, true
	}

	return "", false
}

func allHighRisk(points []RiskTrendPoint) bool {
	for _, p := range points {
		if !p.RiskLevel.IsHighRisk() {
			return false
		}
	}
	return true
}

// NewFinding builds the finding for trend classified as tt.
func NewFinding(trend *PatientRiskTrend, tt TrendType, detectedAt time.Time) AbnormalTrendFinding {
	first, last := trend.First(), trend.Last()
	history := make([]RiskTrendPoint, len(trend.Points))
	copy(history, trend.Points)

	f := AbnormalTrendFinding{
		PatientID:           trend.PatientID,
		TrendType:           tt,
		PreviousRiskLevel:   first.RiskLevel,
		PreviousRiskScore:   first.RiskScore,
		CurrentRiskLevel:    last.RiskLevel,
		CurrentRiskScore:    last.RiskScore,
		DaysBetweenAnalyses: WholeDays(first.Date, last.Date),
		DetectedAt:          detectedAt,
		History:             history,
	}
	f.Description = describe(f, len(history))
	return f
}

func describe(f AbnormalTrendFinding, n int) string {
	switch f.TrendType {
	case TrendRapidDeterioration:
		return fmt.Sprintf("Risk score rose from %.1f to %.1f over %d days",
			*f.PreviousRiskScore, *f.CurrentRiskScore, f.DaysBetweenAnalyses)
	case TrendSuddenSpike:
		return fmt.Sprintf("Risk level jumped from %s to %s over %d days",
			f.PreviousRiskLevel, f.CurrentRiskLevel, f.DaysBetweenAnalyses)
	case TrendConsistentHigh:
		return fmt.Sprintf("All %d analyses over %d days were High or Critical", n, f.DaysBetweenAnalyses)
	default:
		return string(f.TrendType)
	}
}
