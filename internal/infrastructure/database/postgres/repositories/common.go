// Package repositories implements the alert store and the analysis snapshot
// provider on PostgreSQL.
package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
)

// uniqueViolation is the SQLSTATE of a unique-constraint failure.
const uniqueViolation = "23505"

// queryExecutor abstracts sql.DB and sql.Tx.
type queryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// isUniqueViolation recognises the error shapes of both drivers that may sit
// behind database/sql: pgx reports *pgconn.PgError, lib/pq reports *pq.Error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullLevel(l *risk.RiskLevel) sql.NullString {
	if l == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: l.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// levelPtr parses an optional level column. Unknown labels read as absent.
func levelPtr(ns sql.NullString) *risk.RiskLevel {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	l, err := risk.ParseRiskLevel(ns.String)
	if err != nil {
		return nil
	}
	return &l
}

// conditionColumns holds the scan targets of one condition's level and score.
type conditionColumns struct {
	level sql.NullString
	score sql.NullFloat64
}

func (c conditionColumns) risk() risk.ConditionRisk {
	return risk.ConditionRisk{Level: levelPtr(c.level), Score: floatPtr(c.score)}
}
