package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/client"
	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/server"
)

const recentRuns = 5

type statusReport struct {
	Daemon       *server.StatusPayload         `json:"daemon,omitempty"`
	Dependencies orchestrator.DependencyStatus `json:"dependencies"`
	Runs         []store.Run                   `json:"runs,omitempty"`
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show toolchain state, recent runs and daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			report, err := daemonStatus(ctx, flags)
			if err != nil {
				report, err = localStatus(ctx, flags)
				if err != nil {
					return err
				}
			}
			if flags.jsonMode {
				return newOutputFormatter(flags).Print(report)
			}
			printStatus(report)
			return nil
		},
	}
}

func daemonStatus(ctx context.Context, flags *globalFlags) (statusReport, error) {
	c, err := client.Discover(config.GetInstancePaths(flags.instance))
	if err != nil {
		return statusReport{}, err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return statusReport{}, err
	}
	deps, err := c.CheckDependencies(ctx)
	if err != nil {
		return statusReport{}, err
	}
	if warning := c.VersionWarning(); warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}
	return statusReport{Daemon: &st, Dependencies: deps}, nil
}

func localStatus(ctx context.Context, flags *globalFlags) (statusReport, error) {
	env, err := openLocal(flags)
	if err != nil {
		return statusReport{}, err
	}
	defer env.Close()

	report := statusReport{Dependencies: env.orch.CheckDependencies(ctx)}
	runCtx, cancel := context.WithTimeout(ctx, constants.StoreQueryTimeout)
	defer cancel()
	runs, err := env.store.ListRuns(runCtx, "", recentRuns)
	if err != nil {
		return statusReport{}, fmt.Errorf("list runs: %w", err)
	}
	report.Runs = runs
	return report, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printStatus(r statusReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if r.Daemon != nil {
		fmt.Fprintf(w, "Daemon:\trunning %s (uptime %s, %d client(s))\n", r.Daemon.Version, (time.Duration(r.Daemon.Uptime) * time.Second).Round(time.Second), r.Daemon.Clients)
		fmt.Fprintf(w, "Flashing:\t%s\n", yesNo(r.Daemon.Flashing))
		install := "idle"
		switch {
		case r.Daemon.Install.InProgress:
			install = "in progress"
		case r.Daemon.Install.Completed:
			install = "completed"
		case r.Daemon.Install.Error:
			install = "failed: " + r.Daemon.Install.Message
		}
		fmt.Fprintf(w, "Install:\t%s\n", install)
	} else {
		fmt.Fprintf(w, "Daemon:\tnot running\n")
	}
	fmt.Fprintf(w, "arduino-cli:\t%s\n", yesNo(r.Dependencies.ArduinoCLI))
	fmt.Fprintf(w, "RP2040 core:\t%s\n", yesNo(r.Dependencies.Boards))
	if last := r.Dependencies.LastInstall; last != nil {
		fmt.Fprintf(w, "Last install:\t%s\n", last.StartedAt.Local().Format(time.DateTime))
	}
	w.Flush()

	if len(r.Runs) == 0 {
		return
	}
	fmt.Println("\nRecent runs:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tSTATUS\tVARIANT\tMESSAGE")
	for _, run := range r.Runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.StartedAt.Local().Format(time.DateTime), run.Kind, run.Status, run.Variant, run.Message)
	}
	w.Flush()
}
