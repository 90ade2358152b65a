package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/postgres"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// StatusCompleted marks analyses whose risk fields are final.
const StatusCompleted = "Completed"

const snapshotSelect = `
	SELECT id, patient_id, clinic_id, doctor_id, image_id,
		overall_risk_level, risk_score,
		hypertension_level, hypertension_score,
		diabetes_level, diabetes_score,
		stroke_level, stroke_score,
		dr_detected, dr_severity, health_warnings,
		completed_at
	FROM analyses`

// AnalysisRepo reads completed analyses and implements
// risk.SnapshotProvider.
type AnalysisRepo struct {
	conn    *postgres.Connection
	log     logging.Logger
	metrics *prometheus.AppMetrics
}

var _ risk.SnapshotProvider = (*AnalysisRepo)(nil)

func NewAnalysisRepo(conn *postgres.Connection, log logging.Logger, metrics *prometheus.AppMetrics) *AnalysisRepo {
	return &AnalysisRepo{conn: conn, log: log.Named("analysis_repo"), metrics: metrics}
}

// GetAnalysisSnapshot returns ErrCodeAnalysisNotFound for unknown ids and
// ErrCodeAnalysisIncomplete when the analysis has no final result yet.
func (r *AnalysisRepo) GetAnalysisSnapshot(ctx context.Context, analysisID string) (*risk.AnalysisSnapshot, error) {
	defer r.observe("analysis_get", time.Now())

	var status string
	err := r.conn.DB().QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = $1`, analysisID).Scan(&status)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrCodeAnalysisNotFound, "analysis not found").WithDetail(analysisID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load analysis")
	}
	if status != StatusCompleted {
		return nil, errors.New(errors.ErrCodeAnalysisIncomplete, "analysis not completed").WithDetail(analysisID)
	}

	row := r.conn.DB().QueryRowContext(ctx, snapshotSelect+` WHERE id = $1`, analysisID)
	s, err := scanSnapshot(row)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan analysis")
	}
	return &s, nil
}

func (r *AnalysisRepo) GetCompletedAnalyses(ctx context.Context, patientID string, since, until time.Time) ([]risk.AnalysisSnapshot, error) {
	defer r.observe("analysis_list_patient", time.Now())
	return r.query(ctx, snapshotSelect+`
		WHERE patient_id = $1 AND status = $2 AND completed_at >= $3 AND completed_at <= $4
		ORDER BY completed_at`, patientID, StatusCompleted, since, until)
}

func (r *AnalysisRepo) GetCompletedAnalysesForClinic(ctx context.Context, clinicID string, since, until time.Time) ([]risk.AnalysisSnapshot, error) {
	defer r.observe("analysis_list_clinic", time.Now())
	return r.query(ctx, snapshotSelect+`
		WHERE clinic_id = $1 AND status = $2 AND completed_at >= $3 AND completed_at <= $4
		ORDER BY patient_id, completed_at`, clinicID, StatusCompleted, since, until)
}

func (r *AnalysisRepo) query(ctx context.Context, q string, args ...interface{}) ([]risk.AnalysisSnapshot, error) {
	rows, err := r.conn.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query analyses")
	}
	defer rows.Close()

	out := make([]risk.AnalysisSnapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan analysis")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate analyses")
	}
	return out, nil
}

func (r *AnalysisRepo) observe(op string, start time.Time) {
	prometheus.RecordDBQuery(r.metrics, op, time.Since(start))
}

func scanSnapshot(s scanner) (risk.AnalysisSnapshot, error) {
	var (
		snap                      risk.AnalysisSnapshot
		clinicID, doctorID, image sql.NullString
		level                     sql.NullString
		score                     sql.NullFloat64
		hyp, dia, str             conditionColumns
		drSeverity, warnings      sql.NullString
		completedAt               sql.NullTime
	)
	err := s.Scan(
		&snap.AnalysisID, &snap.PatientID, &clinicID, &doctorID, &image,
		&level, &score,
		&hyp.level, &hyp.score,
		&dia.level, &dia.score,
		&str.level, &str.score,
		&snap.DiabeticRetinopathyDetected, &drSeverity, &warnings,
		&completedAt,
	)
	if err != nil {
		return risk.AnalysisSnapshot{}, err
	}
	// A completed analysis without a parseable level reads as Low, which never
	// qualifies for an alert.
	if l := levelPtr(level); l != nil {
		snap.OverallRiskLevel = *l
	}
	snap.ClinicID = stringPtr(clinicID)
	snap.DoctorID = stringPtr(doctorID)
	snap.ImageID = image.String
	snap.RiskScore = floatPtr(score)
	snap.Hypertension = hyp.risk()
	snap.Diabetes = dia.risk()
	snap.Stroke = str.risk()
	snap.DiabeticRetinopathySeverity = stringPtr(drSeverity)
	snap.HealthWarnings = warnings.String
	if completedAt.Valid {
		snap.CompletedAt = completedAt.Time.UTC()
	}
	return snap, nil
}
