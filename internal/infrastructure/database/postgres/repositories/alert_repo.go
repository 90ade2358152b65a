package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/postgres"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

const highRiskLevels = `('High', 'Critical')`

const viewColumns = `
	a.id, a.patient_id, a.clinic_id, a.doctor_id, a.source_analysis_id, a.image_id,
		a.overall_risk_level, a.risk_score,
		a.hypertension_level, a.hypertension_score,
		a.diabetes_level, a.diabetes_score,
		a.stroke_level, a.stroke_score,
		a.dr_detected, a.dr_severity, a.health_warnings,
		a.analysis_completed_at, a.created_at,
		a.acknowledged, a.acknowledged_at, a.acknowledged_by,
		COALESCE(p.full_name, a.patient_id) AS patient_name,
		COALESCE(c.name, '') AS clinic_name,
		COALESCE(d.full_name, '') AS doctor_name`

const viewFrom = `
	FROM high_risk_alerts a
	LEFT JOIN patients p ON p.id = a.patient_id
	LEFT JOIN clinics c ON c.id = a.clinic_id
	LEFT JOIN doctors d ON d.id = a.doctor_id`

const viewSelect = "SELECT" + viewColumns + viewFrom

const newestFirst = `a.analysis_completed_at DESC, a.created_at DESC, a.id DESC`

// AlertRepo is the PostgreSQL alert.Store. The unique constraint on
// source_analysis_id decides concurrent inserts for the same analysis.
type AlertRepo struct {
	conn    *postgres.Connection
	tx      *sql.Tx
	log     logging.Logger
	metrics *prometheus.AppMetrics
}

var _ alert.Store = (*AlertRepo)(nil)

func NewAlertRepo(conn *postgres.Connection, log logging.Logger, metrics *prometheus.AppMetrics) *AlertRepo {
	return &AlertRepo{conn: conn, log: log.Named("alert_repo"), metrics: metrics}
}

// WithTx returns a copy of the repository bound to tx.
func (r *AlertRepo) WithTx(tx *sql.Tx) *AlertRepo {
	cp := *r
	cp.tx = tx
	return &cp
}

func (r *AlertRepo) executor() queryExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

func (r *AlertRepo) observe(op string, start time.Time) {
	prometheus.RecordDBQuery(r.metrics, op, time.Since(start))
}

func (r *AlertRepo) Exists(ctx context.Context, sourceAnalysisID string) (bool, error) {
	defer r.observe("alert_exists", time.Now())

	var exists bool
	err := r.executor().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM high_risk_alerts WHERE source_analysis_id = $1)`,
		sourceAnalysisID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to check alert existence")
	}
	return exists, nil
}

func (r *AlertRepo) Create(ctx context.Context, a *alert.Alert) (string, error) {
	defer r.observe("alert_create", time.Now())

	query := `
		INSERT INTO high_risk_alerts (
			id, patient_id, clinic_id, doctor_id, source_analysis_id, image_id,
			overall_risk_level, risk_score,
			hypertension_level, hypertension_score,
			diabetes_level, diabetes_score,
			stroke_level, stroke_score,
			dr_detected, dr_severity, health_warnings,
			analysis_completed_at, created_at,
			acknowledged, acknowledged_at, acknowledged_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`

	rs := a.Risk
	_, err := r.executor().ExecContext(ctx, query,
		a.ID, a.PatientID, nullString(a.ClinicID), nullString(a.DoctorID), a.SourceAnalysisID, rs.ImageID,
		rs.OverallRiskLevel.String(), nullFloat(rs.RiskScore),
		nullLevel(rs.Hypertension.Level), nullFloat(rs.Hypertension.Score),
		nullLevel(rs.Diabetes.Level), nullFloat(rs.Diabetes.Score),
		nullLevel(rs.Stroke.Level), nullFloat(rs.Stroke.Score),
		rs.DiabeticRetinopathyDetected, nullString(rs.DiabeticRetinopathySeverity), rs.HealthWarnings,
		rs.CompletedAt, a.CreatedAt,
		a.Acknowledged, nullTime(a.AcknowledgedAt), nullString(a.AcknowledgedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", errors.Wrap(err, errors.ErrCodeAlertDuplicate, "alert already exists for analysis").
				WithDetail(a.SourceAnalysisID)
		}
		return "", errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert alert")
	}

	r.log.Debug("alert inserted",
		logging.String("alert_id", a.ID),
		logging.String("analysis_id", a.SourceAnalysisID))
	return a.ID, nil
}

func (r *AlertRepo) ListForClinic(ctx context.Context, clinicID string, f alert.Filter) ([]alert.View, error) {
	defer r.observe("alert_list_clinic", time.Now())
	return r.list(ctx, "a.clinic_id", clinicID, f)
}

func (r *AlertRepo) ListForDoctor(ctx context.Context, doctorID string, f alert.Filter) ([]alert.View, error) {
	defer r.observe("alert_list_doctor", time.Now())
	return r.list(ctx, "a.doctor_id", doctorID, f)
}

func (r *AlertRepo) list(ctx context.Context, column, id string, f alert.Filter) ([]alert.View, error) {
	var b strings.Builder
	b.WriteString(viewSelect)
	fmt.Fprintf(&b, "\n\tWHERE %s = $1 AND a.overall_risk_level IN %s", column, highRiskLevels)
	if f.UnacknowledgedOnly {
		b.WriteString(" AND NOT a.acknowledged")
	}
	b.WriteString("\n\tORDER BY " + newestFirst)
	args := []interface{}{id}
	if f.Limit > 0 {
		b.WriteString(" LIMIT $2")
		args = append(args, f.Limit)
	}
	return r.queryViews(ctx, b.String(), args...)
}

func (r *AlertRepo) Acknowledge(ctx context.Context, alertID, by string, at time.Time) (bool, error) {
	defer r.observe("alert_acknowledge", time.Now())

	res, err := r.executor().ExecContext(ctx, `
		UPDATE high_risk_alerts
		SET acknowledged = TRUE, acknowledged_at = $2, acknowledged_by = $3
		WHERE id = $1 AND NOT acknowledged`,
		alertID, at, by,
	)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to acknowledge alert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read acknowledge result")
	}
	return n == 1, nil
}

func (r *AlertRepo) Summary(ctx context.Context, clinicID string, recent int) (*alert.ClinicSummary, error) {
	defer r.observe("alert_summary", time.Now())

	out := alert.EmptySummary(clinicID)
	var last sql.NullTime
	err := r.executor().QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE overall_risk_level = 'High'),
			COUNT(*) FILTER (WHERE overall_risk_level = 'Critical'),
			COUNT(*) FILTER (WHERE NOT acknowledged),
			MAX(created_at)
		FROM high_risk_alerts
		WHERE clinic_id = $1 AND overall_risk_level IN `+highRiskLevels,
		clinicID,
	).Scan(&out.HighCount, &out.CriticalCount, &out.UnacknowledgedCount, &last)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to summarise clinic alerts")
	}
	if last.Valid {
		out.LastAlertDate = last.Time.UTC()
	}
	if out.HighCount+out.CriticalCount == 0 {
		return out, nil
	}

	views, err := r.list(ctx, "a.clinic_id", clinicID, alert.Filter{Limit: recent})
	if err != nil {
		return nil, err
	}
	out.RecentAlerts = views
	return out, nil
}

func (r *AlertRepo) LatestPerPatient(ctx context.Context, clinicID string, level *risk.RiskLevel) ([]alert.HighRiskPatient, error) {
	defer r.observe("alert_latest_per_patient", time.Now())

	// DISTINCT ON keeps the newest alert of each patient; the level filter
	// applies to that alert only.
	query := `
	SELECT * FROM (
		SELECT DISTINCT ON (a.patient_id)` + viewColumns + viewFrom + `
		WHERE a.clinic_id = $1 AND a.overall_risk_level IN ` + highRiskLevels + `
		ORDER BY a.patient_id, ` + newestFirst + `
	) latest`
	args := []interface{}{clinicID}
	if level != nil {
		query += ` WHERE latest.overall_risk_level = $2`
		args = append(args, level.String())
	}
	query += ` ORDER BY latest.analysis_completed_at DESC, latest.created_at DESC, latest.id DESC`

	views, err := r.queryViews(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]alert.HighRiskPatient, len(views))
	for i, v := range views {
		out[i] = alert.HighRiskPatient{
			PatientID:   v.PatientID,
			PatientName: v.PatientName,
			RiskLevel:   v.Risk.OverallRiskLevel,
			RiskScore:   v.Risk.RiskScore,
			LatestAlert: v,
		}
	}
	return out, nil
}

// Get loads one alert by id.
func (r *AlertRepo) Get(ctx context.Context, alertID string) (*alert.View, error) {
	views, err := r.queryViews(ctx, viewSelect+"\n\tWHERE a.id = $1", alertID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, errors.New(errors.ErrCodeAlertNotFound, "alert not found").WithDetail(alertID)
	}
	return &views[0], nil
}

func (r *AlertRepo) queryViews(ctx context.Context, query string, args ...interface{}) ([]alert.View, error) {
	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query alerts")
	}
	defer rows.Close()

	views := make([]alert.View, 0)
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan alert")
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate alerts")
	}
	return views, nil
}

func scanView(s scanner) (alert.View, error) {
	var (
		v                           alert.View
		clinicID, doctorID, imageID sql.NullString
		score                       sql.NullFloat64
		hyp, dia, str               conditionColumns
		drSeverity, warnings, ackBy sql.NullString
		ackAt                       sql.NullTime
	)
	err := s.Scan(
		&v.ID, &v.PatientID, &clinicID, &doctorID, &v.SourceAnalysisID, &imageID,
		&v.Risk.OverallRiskLevel, &score,
		&hyp.level, &hyp.score,
		&dia.level, &dia.score,
		&str.level, &str.score,
		&v.Risk.DiabeticRetinopathyDetected, &drSeverity, &warnings,
		&v.Risk.CompletedAt, &v.CreatedAt,
		&v.Acknowledged, &ackAt, &ackBy,
		&v.PatientName, &v.ClinicName, &v.DoctorName,
	)
	if err != nil {
		return alert.View{}, err
	}
	v.ClinicID = stringPtr(clinicID)
	v.DoctorID = stringPtr(doctorID)
	v.Risk.ImageID = imageID.String
	v.Risk.RiskScore = floatPtr(score)
	v.Risk.Hypertension = hyp.risk()
	v.Risk.Diabetes = dia.risk()
	v.Risk.Stroke = str.risk()
	v.Risk.DiabeticRetinopathySeverity = stringPtr(drSeverity)
	v.Risk.HealthWarnings = warnings.String
	v.Risk.CompletedAt = v.Risk.CompletedAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	v.AcknowledgedAt = timePtr(ackAt)
	v.AcknowledgedBy = stringPtr(ackBy)
	return v, nil
}
