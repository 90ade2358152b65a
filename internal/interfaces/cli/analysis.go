package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/RetinaGuard/internal/application/trend"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

func newEvaluateCmd() *cobra.Command {
	var patientID, clinicID string
	cmd := &cobra.Command{
		Use:   "evaluate <analysisId>",
		Short: "Evaluate a completed analysis and raise an alert if it is high risk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(patientID) == "" {
				return errors.InvalidParam("--patient is required")
			}
			var clinic *string
			if c := strings.TrimSpace(clinicID); c != "" {
				clinic = &c
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			created, err := cc.Backend.Evaluator.CheckAndGenerateAlert(cmd.Context(), args[0], patientID, clinic)
			if err != nil {
				return err
			}
			if cc.Output == OutputJSON {
				return printJSON(cmd, map[string]interface{}{"analysisId": args[0], "created": created})
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Alert created for analysis %s.\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No alert created for analysis %s.\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "patient id (required)")
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic id")
	return cmd
}

func newTrendCmd() *cobra.Command {
	var lookback int
	cmd := &cobra.Command{
		Use:   "trend <patientId>",
		Short: "Show a patient's risk trend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lookback < 0 {
				return errors.InvalidParam("--lookback must not be negative")
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			tr, err := cc.Backend.Analyzer.GetPatientRiskTrend(cmd.Context(), args[0], lookback)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeTimeout, "risk trend computation interrupted")
			}
			if tr == nil {
				return errors.New(errors.ErrCodePatientNotFound, "no completed analyses in the window").WithDetail(args[0])
			}
			if cc.Output == OutputJSON {
				return printJSON(cmd, tr)
			}
			renderTrend(cmd.OutOrStdout(), tr)
			return nil
		},
	}
	cmd.Flags().IntVar(&lookback, "lookback", trend.DefaultTrendLookbackDays, "lookback window in days")
	return cmd
}

func newScanCmd() *cobra.Command {
	var lookback int
	cmd := &cobra.Command{
		Use:   "scan <clinicId>",
		Short: "Detect abnormal risk trends across a clinic's patients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lookback < 0 {
				return errors.InvalidParam("--lookback must not be negative")
			}
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			findings, err := cc.Backend.Scanner.DetectAbnormalTrends(cmd.Context(), args[0], lookback)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeTimeout, "abnormal trend scan interrupted")
			}
			if findings == nil {
				findings = []risk.AbnormalTrendFinding{}
			}
			if cc.Output == OutputJSON {
				return printJSON(cmd, findings)
			}
			if len(findings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No abnormal trends detected.")
				return nil
			}
			renderFindings(cmd.OutOrStdout(), findings)
			return nil
		},
	}
	cmd.Flags().IntVar(&lookback, "lookback", trend.DefaultScanLookbackDays, "lookback window in days")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := backendOf(cmd)
			if err != nil {
				return err
			}
			if cc.Backend.Migrate == nil {
				return errors.New(errors.ErrCodeInternal, "migrations not available")
			}
			if err := cc.Backend.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	})
	return cmd
}
