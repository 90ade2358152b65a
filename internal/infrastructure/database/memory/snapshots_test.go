package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

func TestSnapshotProvider(t *testing.T) {
	ctx := context.Background()
	p := NewSnapshotProvider(
		risk.AnalysisSnapshot{AnalysisID: "a1", PatientID: "p-1", ClinicID: risk.StringPtr("c-1"), CompletedAt: base},
		risk.AnalysisSnapshot{AnalysisID: "a2", PatientID: "p-1", ClinicID: risk.StringPtr("c-1"), CompletedAt: base.AddDate(0, 0, 10)},
		risk.AnalysisSnapshot{AnalysisID: "a3", PatientID: "p-2", ClinicID: risk.StringPtr("c-2"), CompletedAt: base.AddDate(0, 0, 10)},
	)

	s, err := p.GetAnalysisSnapshot(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "p-1", s.PatientID)

	_, err = p.GetAnalysisSnapshot(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	until := base.AddDate(0, 0, 30)

	got, err := p.GetCompletedAnalyses(ctx, "p-1", base.AddDate(0, 0, 1), until)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].AnalysisID)

	got, err = p.GetCompletedAnalyses(ctx, "p-1", base, until)
	require.NoError(t, err)
	assert.Len(t, got, 2, "since is inclusive")

	got, err = p.GetCompletedAnalyses(ctx, "p-1", base, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, got, 2, "until is inclusive")

	got, err = p.GetCompletedAnalyses(ctx, "p-1", base, base.AddDate(0, 0, 9))
	require.NoError(t, err)
	require.Len(t, got, 1, "analyses after until are excluded")
	assert.Equal(t, "a1", got[0].AnalysisID)

	got, err = p.GetCompletedAnalysesForClinic(ctx, "c-2", base, until)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p-2", got[0].PatientID)

	p.Put(risk.AnalysisSnapshot{AnalysisID: "a4", PatientID: "p-2", ClinicID: risk.StringPtr("c-2"), CompletedAt: base.AddDate(0, 0, 11)})
	got, _ = p.GetCompletedAnalysesForClinic(ctx, "c-2", base, until)
	assert.Len(t, got, 2)

	got, _ = p.GetCompletedAnalysesForClinic(ctx, "c-2", base, base.AddDate(0, 0, 10))
	assert.Len(t, got, 1)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory()
	d.AddPatient("p-1", "Grace Hopper")
	d.AddDoctor("d-1", "Dr. Okafor")

	assert.Equal(t, "Grace Hopper", d.PatientName(ctx, "p-1"))
	assert.Equal(t, "Dr. Okafor", d.DoctorName(ctx, "d-1"))
	assert.Equal(t, "c-9", d.ClinicName(ctx, "c-9"))
}
