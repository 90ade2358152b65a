package risk

import (
	"sort"
	"time"
)

// DirectionThreshold is the minimum change of the half-window score average
// that counts as a change of direction.
const DirectionThreshold = 5.0

// TrendDirection classifies a patient's risk-score trajectory.
type TrendDirection string

const (
	TrendImproving TrendDirection = "Improving"
	TrendStable    TrendDirection = "Stable"
	TrendWorsening TrendDirection = "Worsening"
)

// RiskTrendPoint is one analysis on a patient's timeline.
type RiskTrendPoint struct {
	AnalysisID string    `json:"analysisId"`
	Date       time.Time `json:"date"`
	RiskLevel  RiskLevel `json:"riskLevel"`
	RiskScore  *float64  `json:"riskScore,omitempty"`
}

// PatientRiskTrend is computed per request and never stored.
type PatientRiskTrend struct {
	PatientID             string           `json:"patientId"`
	Points                []RiskTrendPoint `json:"points"`
	CurrentRiskLevel      RiskLevel        `json:"currentRiskLevel"`
	CurrentRiskScore      *float64         `json:"currentRiskScore,omitempty"`
	TrendDirection        TrendDirection   `json:"trendDirection"`
	DaysSinceLastAnalysis int              `json:"daysSinceLastAnalysis"`
	TotalAnalyses         int              `json:"totalAnalyses"`
}

// First returns the oldest point. Points must not be empty.
func (t *PatientRiskTrend) First() RiskTrendPoint { return t.Points[0] }

// Last returns the newest point. Points must not be empty.
func (t *PatientRiskTrend) Last() RiskTrendPoint { return t.Points[len(t.Points)-1] }

// SortPoints orders points ascending by date in place. Equal dates keep their
// relative order.
func SortPoints(points []RiskTrendPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
}

// BuildTrend sorts points and derives the trend as of now. It returns nil for
// an empty slice. The slice is sorted in place.
func BuildTrend(patientID string, points []RiskTrendPoint, now time.Time) *PatientRiskTrend {
	if len(points) == 0 {
		return nil
	}
	SortPoints(points)
	last := points[len(points)-1]

	return &PatientRiskTrend{
		PatientID:             patientID,
		Points:                points,
		CurrentRiskLevel:      last.RiskLevel,
		CurrentRiskScore:      last.RiskScore,
		TrendDirection:        ClassifyDirection(points),
		DaysSinceLastAnalysis: WholeDays(last.Date, now),
		TotalAnalyses:         len(points),
	}
}

// ClassifyDirection compares the mean score of the first floor(n/2) points
// with the mean of the remaining points. For odd n the middle point belongs
// to the second half. Points without a score are ignored; if either half has
// no scored point, or there are fewer than two points, the result is Stable.
func ClassifyDirection(points []RiskTrendPoint) TrendDirection {
	if len(points) < 2 {
		return TrendStable
	}
	mid := len(points) / 2
	firstAvg, okFirst := meanScore(points[:mid])
	secondAvg, okSecond := meanScore(points[mid:])
	if !okFirst || !okSecond {
		return TrendStable
	}

	diff := secondAvg - firstAvg
	switch {
	case diff >= DirectionThreshold:
		return TrendWorsening
	case diff <= -DirectionThreshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

func meanScore(points []RiskTrendPoint) (float64, bool) {
	var sum float64
	var n int
	for _, p := range points {
		if p.RiskScore == nil {
			continue
		}
		sum += *p.RiskScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// WholeDays returns the number of complete 24h periods from 'from' to 'to',
// never negative.
func WholeDays(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
