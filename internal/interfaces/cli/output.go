package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	return t
}

func renderAlerts(w io.Writer, views []alert.View) {
	t := newTable(w, "ID", "Patient", "Level", "Score", "Created", "Ack")
	for _, v := range views {
		t.Append([]string{
			v.ID,
			nameOr(v.PatientName, v.PatientID),
			v.Risk.OverallRiskLevel.String(),
			score(v.Risk.RiskScore),
			v.CreatedAt.Format(timeLayout),
			ackLabel(v.Alert),
		})
	}
	t.Render()
}

func renderSummary(w io.Writer, s *alert.ClinicSummary) {
	fmt.Fprintf(w, "Clinic:          %s\n", s.ClinicID)
	fmt.Fprintf(w, "High:            %d\n", s.HighCount)
	fmt.Fprintf(w, "Critical:        %d\n", s.CriticalCount)
	fmt.Fprintf(w, "Unacknowledged:  %d\n", s.UnacknowledgedCount)
	if !s.LastAlertDate.IsZero() {
		fmt.Fprintf(w, "Last alert:      %s\n", s.LastAlertDate.Format(timeLayout))
	}
	if len(s.RecentAlerts) > 0 {
		fmt.Fprintln(w)
		renderAlerts(w, s.RecentAlerts)
	}
}

func renderHighRisk(w io.Writer, patients []alert.HighRiskPatient) {
	t := newTable(w, "Patient", "Name", "Level", "Score", "Latest Alert", "Alerted")
	for _, p := range patients {
		t.Append([]string{
			p.PatientID,
			p.PatientName,
			p.RiskLevel.String(),
			score(p.RiskScore),
			p.LatestAlert.ID,
			p.LatestAlert.CreatedAt.Format(timeLayout),
		})
	}
	t.Render()
}

func renderTrend(w io.Writer, tr *risk.PatientRiskTrend) {
	fmt.Fprintf(w, "Patient:         %s\n", tr.PatientID)
	fmt.Fprintf(w, "Current level:   %s (%s)\n", tr.CurrentRiskLevel, score(tr.CurrentRiskScore))
	fmt.Fprintf(w, "Direction:       %s\n", tr.TrendDirection)
	fmt.Fprintf(w, "Analyses:        %d\n", tr.TotalAnalyses)
	fmt.Fprintf(w, "Days since last: %d\n\n", tr.DaysSinceLastAnalysis)

	t := newTable(w, "Date", "Analysis", "Level", "Score")
	for _, p := range tr.Points {
		t.Append([]string{p.Date.Format(timeLayout), p.AnalysisID, p.RiskLevel.String(), score(p.RiskScore)})
	}
	t.Render()
}

func renderFindings(w io.Writer, findings []risk.AbnormalTrendFinding) {
	t := newTable(w, "Patient", "Trend", "From", "To", "Days", "Detected")
	for _, f := range findings {
		t.Append([]string{
			f.PatientID,
			string(f.TrendType),
			f.PreviousRiskLevel.String(),
			f.CurrentRiskLevel.String(),
			strconv.Itoa(f.DaysBetweenAnalyses),
			f.DetectedAt.Format(timeLayout),
		})
	}
	t.Render()
}

func score(s *float64) string {
	if s == nil {
		return "-"
	}
	return strconv.FormatFloat(*s, 'f', 1, 64)
}

func nameOr(name, id string) string {
	if name == "" {
		return id
	}
	return name
}

func ackLabel(a alert.Alert) string {
	if !a.Acknowledged {
		return "no"
	}
	if a.AcknowledgedBy != nil && a.AcknowledgedAt != nil {
		return fmt.Sprintf("%s @ %s", *a.AcknowledgedBy, a.AcknowledgedAt.Format(time.Kitchen))
	}
	return "yes"
}
