package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/daemon"
	catflashversion "github.com/catflash/catflash/internal/version"
)

type daemonFlags struct {
	instance string
	listen   string
	envFile  string
	origins  []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &daemonFlags{}
	rootCmd := &cobra.Command{
		Use:           "catflashd",
		Short:         "catflash daemon - serves the BomberCat flashing API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(flags)
		},
	}
	rootCmd.Version = catflashversion.Current().Full()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().StringVar(&flags.instance, "instance", config.DefaultInstance, "instance name")
	rootCmd.Flags().StringVar(&flags.listen, "listen", "", "listen address (default from CATFLASH_LISTEN or "+config.DefaultListenAddr+")")
	rootCmd.Flags().StringVar(&flags.envFile, "env-file", "", "dotenv file with CATFLASH_* overrides")
	rootCmd.Flags().StringSliceVar(&flags.origins, "allow-origin", nil, "extra browser origin allowed on the websocket")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon for this instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.GetInstancePaths(flags.instance)
			if err := daemon.Stop(paths, constants.Duration10Seconds); err != nil {
				return err
			}
			fmt.Println("catflashd stopped")
			return nil
		},
	})
	return rootCmd
}

func runDaemon(flags *daemonFlags) error {
	paths, err := config.EnsureInstanceDirs(flags.instance)
	if err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}

	closer, err := daemon.SetupLogging(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	} else {
		defer closer.Close()
	}

	if daemon.IsRunning(paths) {
		return fmt.Errorf("catflashd is already running for instance %q", flags.instance)
	}

	envFile := paths.EnvFile
	if flags.envFile != "" {
		envFile = config.ExpandPath(flags.envFile)
	}
	settings, err := config.LoadSettingsFrom(paths, envFile, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if flags.listen != "" {
		settings.ListenAddr = flags.listen
	}

	st, err := store.Open(store.Options{InstanceName: flags.instance})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		Settings:       settings,
		Paths:          paths,
		Store:          st,
		AllowedOrigins: flags.origins,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	lc := d.Lifecycle()
	stop := lc.ShutdownOn(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("catflashd %s started (PID: %d)", catflashversion.FormatVersion(catflashversion.String()), os.Getpid())
	if err := d.Start(); err != nil {
		log.Printf("Daemon error: %v", err)
		return err
	}
	log.Println("Daemon stopped")
	return nil
}
