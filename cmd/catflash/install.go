package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/client"
	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/server"
)

func newInstallCommand(flags *globalFlags) *cobra.Command {
	var viaDaemon bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install arduino-cli, the RP2040 core and the firmware libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if viaDaemon {
				return runInstallViaDaemon(flags)
			}
			return runInstall(flags)
		},
	}
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "run the install inside a running catflashd")
	return cmd
}

func runInstall(flags *globalFlags) error {
	env, err := openLocal(flags)
	if err != nil {
		return err
	}
	defer env.Close()
	noteRunningDaemon(env)

	ctx, cancel := signalContext()
	defer cancel()

	_, task, err := env.orch.StartInstall(ctx)
	if err != nil {
		return err
	}
	if err := waitTask(ctx, env, task); err != nil {
		return err
	}
	env.console.Finish()

	state := env.orch.State()
	if flags.jsonMode {
		return newOutputFormatter(flags).Print(state)
	}
	if state.Error {
		return errors.New(state.Message)
	}
	return nil
}

func runInstallViaDaemon(flags *globalFlags) error {
	c, err := client.Discover(config.GetInstancePaths(flags.instance))
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	reqCtx, reqCancel := context.WithTimeout(ctx, 10*time.Second)
	resp, err := c.InstallDependencies(reqCtx)
	reqCancel()
	if err != nil {
		return err
	}
	fmt.Println(resp.Status)
	return followDaemon(ctx, c, func(msg server.Message) bool {
		return msg.Type != server.MessageInstallationComplete
	})
}
