// Package notification defines the outbound port used to tell clinical staff
// about new high-risk alerts.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
)

// Kind classifies a notification for the delivery layer.
type Kind string

const KindHighRiskAlert Kind = "HighRiskAlert"

// Audience selects how Target is interpreted.
type Audience string

const (
	AudienceUser   Audience = "user"
	AudienceClinic Audience = "clinic"
)

// Target is either a single user or every staff member of a clinic.
type Target struct {
	Audience Audience `json:"audience"`
	ID       string   `json:"id"`
}

func UserTarget(userID string) Target     { return Target{Audience: AudienceUser, ID: userID} }
func ClinicTarget(clinicID string) Target { return Target{Audience: AudienceClinic, ID: clinicID} }

func (t Target) String() string { return string(t.Audience) + ":" + t.ID }

// Notification is a delivery request.
type Notification struct {
	Target  Target                 `json:"target"`
	Kind    Kind                   `json:"kind"`
	Title   string                 `json:"title"`
	Body    string                 `json:"body"`
	Payload map[string]interface{} `json:"payload"`
}

// Sink delivers notifications. Delivery is best-effort and callers never retry.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// ForAlert builds the high-risk alert notification addressed to t.
func ForAlert(a *alert.Alert, t Target) Notification {
	level := a.Risk.OverallRiskLevel.String()

	var body strings.Builder
	fmt.Fprintf(&body, "Patient %s has a %s risk result", a.PatientID, level)
	if a.Risk.RiskScore != nil {
		fmt.Fprintf(&body, " (score %.1f)", *a.Risk.RiskScore)
	}
	body.WriteString(".")
	if a.Risk.DiabeticRetinopathyDetected {
		body.WriteString(" Diabetic retinopathy detected")
		if a.Risk.DiabeticRetinopathySeverity != nil && *a.Risk.DiabeticRetinopathySeverity != "" {
			fmt.Fprintf(&body, " (%s)", *a.Risk.DiabeticRetinopathySeverity)
		}
		body.WriteString(".")
	}
	if w := strings.TrimSpace(a.Risk.HealthWarnings); w != "" {
		body.WriteString(" Warnings: ")
		body.WriteString(w)
	}

	payload := map[string]interface{}{
		"alertId":    a.ID,
		"analysisId": a.SourceAnalysisID,
		"patientId":  a.PatientID,
		"riskLevel":  level,
	}
	if a.ClinicID != nil {
		payload["clinicId"] = *a.ClinicID
	}
	if a.Risk.RiskScore != nil {
		payload["riskScore"] = *a.Risk.RiskScore
	}

	return Notification{
		Target:  t,
		Kind:    KindHighRiskAlert,
		Title:   "High-risk result: " + level,
		Body:    body.String(),
		Payload: payload,
	}
}
