package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/RetinaGuard/internal/application/alerting"
	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and acknowledge high-risk alerts",
	}
	cmd.AddCommand(newAlertsListCmd(), newAlertsSummaryCmd(), newAlertsAckCmd(), newAlertsHighRiskCmd())
	return cmd
}

func newAlertsListCmd() *cobra.Command {
	var (
		clinicID, doctorID string
		unacknowledged     bool
		limit              int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts for a clinic or a doctor",
		Example: `  retinaguard alerts list --clinic c-1 --unacknowledged
  retinaguard alerts list --doctor d-7 --limit 20 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clinicID, doctorID = strings.TrimSpace(clinicID), strings.TrimSpace(doctorID)
			if (clinicID == "") == (doctorID == "") {
				return errors.InvalidParam("exactly one of --clinic or --doctor is required")
			}
			if limit < 0 {
				return errors.InvalidParam("--limit must not be negative")
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}

			var views []alert.View
			if clinicID != "" {
				views = cc.Backend.Queries.GetClinicAlerts(cmd.Context(), clinicID, unacknowledged, alerting.ClampLimit(limit))
			} else {
				views = cc.Backend.Queries.GetDoctorAlerts(cmd.Context(), doctorID, unacknowledged, alerting.ClampLimit(limit))
			}
			if views == nil {
				views = []alert.View{}
			}
			if cc.Output == OutputJSON {
				return printJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No alerts.")
				return nil
			}
			renderAlerts(cmd.OutOrStdout(), views)
			return nil
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id")
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id")
	cmd.Flags().BoolVar(&unacknowledged, "unacknowledged", false, "only unacknowledged alerts")
	cmd.Flags().IntVar(&limit, "limit", alerting.DefaultListLimit, "maximum alerts to return")
	return cmd
}

func newAlertsSummaryCmd() *cobra.Command {
	var (
		clinicID string
		recent   int
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the alert summary of a clinic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(clinicID) == "" {
				return errors.InvalidParam("--clinic is required")
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			summary := cc.Backend.Queries.GetClinicAlertSummary(cmd.Context(), clinicID, recent)
			if summary == nil {
				summary = alert.EmptySummary(clinicID)
			}
			if cc.Output == OutputJSON {
				return printJSON(cmd, summary)
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id (required)")
	cmd.Flags().IntVar(&recent, "recent", alerting.DefaultRecentAlerts, "number of recent alerts to include")
	return cmd
}

func newAlertsAckCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "ack <alertId>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(by) == "" {
				return errors.InvalidParam("--by is required")
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			ok := cc.Backend.Queries.AcknowledgeAlert(cmd.Context(), args[0], by)
			if cc.Output == OutputJSON {
				return printJSON(cmd, map[string]interface{}{"alertId": args[0], "acknowledged": ok})
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Alert %s was not acknowledged (missing or already acknowledged).\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s acknowledged by %s.\n", args[0], by)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "acknowledging user id (required)")
	return cmd
}

func newAlertsHighRiskCmd() *cobra.Command {
	var clinicID, level string
	cmd := &cobra.Command{
		Use:   "high-risk",
		Short: "List the latest alert per high-risk patient of a clinic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(clinicID) == "" {
				return errors.InvalidParam("--clinic is required")
			}
			var filter *risk.RiskLevel
			if level != "" {
				l, err := risk.ParseRiskLevel(level)
				if err != nil {
					return err
				}
				filter = &l
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			patients := cc.Backend.Queries.GetHighRiskPatients(cmd.Context(), clinicID, filter)
			if patients == nil {
				patients = []alert.HighRiskPatient{}
			}
			if cc.Output == OutputJSON {
				return printJSON(cmd, patients)
			}
			if len(patients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No high-risk patients.")
				return nil
			}
			renderHighRisk(cmd.OutOrStdout(), patients)
			return nil
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id (required)")
	cmd.Flags().StringVar(&level, "level", "", "only patients at this level (High, Critical)")
	return cmd
}
