package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// AlertsClient covers the alert endpoints.
type AlertsClient struct {
	client *Client
}

// ListOptions filters alert lists. A zero Limit uses the server default.
type ListOptions struct {
	UnacknowledgedOnly bool
	Limit              int
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.UnacknowledgedOnly {
		q.Set("unacknowledged", "true")
	}
	setInt(q, "limit", o.Limit)
	return q
}

func (a *AlertsClient) ListForClinic(ctx context.Context, clinicID string, opts ListOptions) ([]Alert, error) {
	if clinicID == "" {
		return nil, errors.InvalidParam("clinicID is required")
	}
	var out []Alert
	err := a.client.do(ctx, http.MethodGet, "/clinics/"+url.PathEscape(clinicID)+"/alerts", opts.query(), nil, &out)
	return out, err
}

func (a *AlertsClient) ListForDoctor(ctx context.Context, doctorID string, opts ListOptions) ([]Alert, error) {
	if doctorID == "" {
		return nil, errors.InvalidParam("doctorID is required")
	}
	var out []Alert
	err := a.client.do(ctx, http.MethodGet, "/doctors/"+url.PathEscape(doctorID)+"/alerts", opts.query(), nil, &out)
	return out, err
}

// Summary returns the clinic's alert counts and its recent alerts. A zero
// recent uses the server default.
func (a *AlertsClient) Summary(ctx context.Context, clinicID string, recent int) (*ClinicSummary, error) {
	if clinicID == "" {
		return nil, errors.InvalidParam("clinicID is required")
	}
	q := url.Values{}
	setInt(q, "recent", recent)
	var out ClinicSummary
	if err := a.client.do(ctx, http.MethodGet, "/clinics/"+url.PathEscape(clinicID)+"/alerts/summary", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HighRiskPatients lists the latest alert per patient. level may be empty.
func (a *AlertsClient) HighRiskPatients(ctx context.Context, clinicID, level string) ([]HighRiskPatient, error) {
	if clinicID == "" {
		return nil, errors.InvalidParam("clinicID is required")
	}
	q := url.Values{}
	if level != "" {
		q.Set("level", level)
	}
	var out []HighRiskPatient
	err := a.client.do(ctx, http.MethodGet, "/clinics/"+url.PathEscape(clinicID)+"/high-risk-patients", q, nil, &out)
	return out, err
}

// Acknowledge marks the alert acknowledged by the authenticated user. It
// returns false when the alert is missing or already acknowledged.
func (a *AlertsClient) Acknowledge(ctx context.Context, alertID string) (bool, error) {
	if alertID == "" {
		return false, errors.InvalidParam("alertID is required")
	}
	var out struct {
		Acknowledged bool `json:"acknowledged"`
	}
	err := a.client.do(ctx, http.MethodPost, "/alerts/"+url.PathEscape(alertID)+"/acknowledge", nil, nil, &out)
	return out.Acknowledged, err
}

// Evaluate asks the server to check a completed analysis. It reports
// whether a new alert was created. clinicID may be empty.
func (a *AlertsClient) Evaluate(ctx context.Context, analysisID, patientID, clinicID string) (bool, error) {
	if analysisID == "" || patientID == "" {
		return false, errors.InvalidParam("analysisID and patientID are required")
	}
	body := struct {
		PatientID string  `json:"patientId"`
		ClinicID  *string `json:"clinicId,omitempty"`
	}{PatientID: patientID}
	if clinicID != "" {
		body.ClinicID = &clinicID
	}
	var out struct {
		Created bool `json:"created"`
	}
	err := a.client.do(ctx, http.MethodPost, "/analyses/"+url.PathEscape(analysisID)+"/evaluate", nil, body, &out)
	return out.Created, err
}

// TrendsClient covers the risk-trend endpoints.
type TrendsClient struct {
	client *Client
}

// PatientRiskTrend returns the patient's trend over lookbackDays (zero uses
// the server default). A patient without analyses yields an APIError for
// which IsNotFound is true.
func (t *TrendsClient) PatientRiskTrend(ctx context.Context, patientID string, lookbackDays int) (*PatientRiskTrend, error) {
	if patientID == "" {
		return nil, errors.InvalidParam("patientID is required")
	}
	var out PatientRiskTrend
	if err := t.client.do(ctx, http.MethodGet, "/patients/"+url.PathEscape(patientID)+"/risk-trend", lookback(lookbackDays), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *TrendsClient) AbnormalTrends(ctx context.Context, clinicID string, lookbackDays int) ([]AbnormalTrendFinding, error) {
	if clinicID == "" {
		return nil, errors.InvalidParam("clinicID is required")
	}
	var out []AbnormalTrendFinding
	err := t.client.do(ctx, http.MethodGet, "/clinics/"+url.PathEscape(clinicID)+"/abnormal-trends", lookback(lookbackDays), nil, &out)
	return out, err
}

func lookback(days int) url.Values {
	q := url.Values{}
	if days > 0 {
		q.Set("lookbackDays", strconv.Itoa(days))
	}
	return q
}
