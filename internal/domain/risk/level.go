// Package risk holds the value types shared by alerting and trend analysis:
// the ordinal risk level, completed analysis snapshots and trend points, and
// the pure classification rules applied to a patient's risk history.
package risk

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// RiskLevel is the overall classification of one analysis. The numeric value
// is the ordinal used by every comparison.
type RiskLevel int

const (
	RiskLevelLow      RiskLevel = 0
	RiskLevelMedium   RiskLevel = 1
	RiskLevelHigh     RiskLevel = 2
	RiskLevelCritical RiskLevel = 3
)

// String returns the canonical label.
func (l RiskLevel) String() string {
	switch l {
	case RiskLevelLow:
		return "Low"
	case RiskLevelMedium:
		return "Medium"
	case RiskLevelHigh:
		return "High"
	case RiskLevelCritical:
		return "Critical"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
}

// Ordinal returns the fixed position of l in Low < Medium < High < Critical.
func (l RiskLevel) Ordinal() int { return int(l) }

// IsValid reports whether l is one of the four defined levels.
func (l RiskLevel) IsValid() bool {
	return l >= RiskLevelLow && l <= RiskLevelCritical
}

// IsHighRisk reports whether l qualifies for a high-risk alert.
func (l RiskLevel) IsHighRisk() bool {
	return l == RiskLevelHigh || l == RiskLevelCritical
}

// ParseRiskLevel converts a label to a RiskLevel. Matching is
// case-insensitive; the scoring service's "Minimal" and "Moderate" labels map
// to Low and Medium.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minimal":
		return RiskLevelLow, nil
	case "medium", "moderate":
		return RiskLevelMedium, nil
	case "high":
		return RiskLevelHigh, nil
	case "critical":
		return RiskLevelCritical, nil
	default:
		return RiskLevelLow, errors.New(errors.ErrCodeRiskLevelInvalid, "unknown risk level").WithDetail(s)
	}
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return err
		}
		if !RiskLevel(n).IsValid() {
			return errors.New(errors.ErrCodeRiskLevelInvalid, "risk level out of range")
		}
		*l = RiskLevel(n)
		return nil
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Value stores the level as its label.
func (l RiskLevel) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan reads a label (text) or an ordinal (integer) column.
func (l *RiskLevel) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseRiskLevel(v)
		if err != nil {
			return err
		}
		*l = parsed
	case []byte:
		return l.Scan(string(v))
	case int64:
		if !RiskLevel(v).IsValid() {
			return errors.New(errors.ErrCodeRiskLevelInvalid, "risk level out of range")
		}
		*l = RiskLevel(v)
	default:
		return errors.New(errors.ErrCodeRiskLevelInvalid, fmt.Sprintf("cannot scan %T into RiskLevel", src))
	}
	return nil
}
