// Package cli implements the retinaguard operator command line. Commands run
// the application services in-process against the configured database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/RetinaGuard/internal/application/alerting"
	"github.com/turtacn/RetinaGuard/internal/application/trend"
	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"

	skipBackend = "skip-backend"
)

type cliContextKey struct{}

// RootOptions holds global flags.
type RootOptions struct {
	ConfigPath string
	Output     string
	LogLevel   string
	Timeout    time.Duration
}

// Backend is what commands operate on. Close releases connections.
type Backend struct {
	Queries   alerting.QueryService
	Evaluator alerting.Evaluator
	Analyzer  trend.Analyzer
	Scanner   trend.Scanner
	Migrate   func() error
	Close     func()
}

// Connector builds a Backend from configuration.
type Connector func(cfg *config.Config, logger logging.Logger) (*Backend, error)

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config  *config.Config
	Logger  logging.Logger
	Backend *Backend
	Output  string

	cancel context.CancelFunc
}

// release cancels the command timeout and closes the backend. Safe to call
// more than once.
func (cc *CLIContext) release() {
	if cc == nil {
		return
	}
	if cc.cancel != nil {
		cc.cancel()
		cc.cancel = nil
	}
	if cc.Backend != nil && cc.Backend.Close != nil {
		cc.Backend.Close()
		cc.Backend.Close = nil
	}
}

// NewRootCommand builds the command tree. connect is called once before any
// command that needs the services.
func NewRootCommand(connect Connector) *cobra.Command {
	cmd, _ := newRoot(connect)
	return cmd
}

func newRoot(connect Connector) (*cobra.Command, func()) {
	opts := &RootOptions{}
	var active *CLIContext

	cmd := &cobra.Command{
		Use:     "retinaguard",
		Short:   "RetinaGuard high-risk alert and risk-trend operator CLI",
		Long:    "retinaguard inspects and acknowledges high-risk alerts raised from retinal\nanalyses, evaluates analyses on demand, and reports patient risk trends and\nabnormal clinic trends.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := persistentPreRun(cmd, opts, connect)
			active = cc
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) { active.release() },
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: environment only)")
	pf.StringVarP(&opts.Output, "output", "o", OutputTable, "output format (table, json)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "per-command timeout")

	cmd.AddCommand(
		newAlertsCmd(),
		newEvaluateCmd(),
		newTrendCmd(),
		newScanCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return cmd, func() { active.release() }
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions, connect Connector) (*CLIContext, error) {
	output := strings.ToLower(opts.Output)
	if output != OutputTable && output != OutputJSON {
		return nil, errors.InvalidParam("output must be table or json").WithDetail(opts.Output)
	}

	cc := &CLIContext{Output: output}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, cliContextKey{}, cc)
	cmd.SetContext(ctx)
	if _, skip := cmd.Annotations[skipBackend]; skip {
		return cc, nil
	}

	cfg, err := config.LoadOptional(opts.ConfigPath)
	if err != nil {
		return cc, fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       opts.LogLevel,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return cc, fmt.Errorf("logger initialization failed: %w", err)
	}
	cc.Config = cfg
	cc.Logger = logger

	if connect == nil {
		return cc, errors.New(errors.ErrCodeInternal, "no backend connector configured")
	}
	backend, err := connect(cfg, logger)
	if err != nil {
		return cc, fmt.Errorf("backend initialization failed: %w", err)
	}
	cc.Backend = backend

	if opts.Timeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		cc.cancel = cancel
		cmd.SetContext(tctx)
	}
	return cc, nil
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "command context is nil")
	}
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		return nil, errors.New(errors.ErrCodeValidation, "CLI context not initialized")
	}
	return cc, nil
}

func backendOf(cmd *cobra.Command) (*CLIContext, error) {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	if cc.Backend == nil {
		return nil, errors.New(errors.ErrCodeInternal, "backend not initialized")
	}
	return cc, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipBackend: ""},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, _ := GetCLIContext(cmd)
			info := map[string]string{"version": Version, "commit": GitCommit, "buildDate": BuildDate}
			if cc != nil && cc.Output == OutputJSON {
				return printJSON(cmd, info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retinaguard %s (commit: %s, built: %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}

// Execute runs the CLI with connect. The backend is closed even when the
// command fails.
func Execute(ctx context.Context, connect Connector) error {
	cmd, release := newRoot(connect)
	defer release()
	return cmd.ExecuteContext(ctx)
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
