// Command retinaguard is the operator CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/RetinaGuard/internal/app"
	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx, connect)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect wires the services in-process. Notifications raised by
// "evaluate" go through the configured sink like the API server's.
func connect(cfg *config.Config, logger logging.Logger) (*cli.Backend, error) {
	infra, err := app.NewInfrastructure(cfg, logger)
	if err != nil {
		return nil, err
	}
	sink, err := app.NewSink(infra)
	if err != nil {
		infra.Close()
		return nil, err
	}
	svc := app.NewServices(infra, sink)
	return &cli.Backend{
		Queries:   svc.Queries,
		Evaluator: svc.Evaluator,
		Analyzer:  svc.Analyzer,
		Scanner:   svc.Scanner,
		Migrate:   infra.Migrate,
		Close:     infra.Close,
	}, nil
}
