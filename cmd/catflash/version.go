package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/client"
	"github.com/catflash/catflash/internal/config"
	catflashversion "github.com/catflash/catflash/internal/version"
)

func newVersionCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the catflash version and the daemon version when reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := map[string]string{"client": catflashversion.FormatVersion(catflashversion.String())}

			if c, err := client.Discover(config.GetInstancePaths(flags.instance)); err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				st, err := c.Status(ctx)
				cancel()
				if err == nil {
					out["daemon"] = catflashversion.FormatVersion(st.Version)
					if warning := catflashversion.CheckVersionMismatch(st.Version); warning != "" {
						fmt.Fprintln(os.Stderr, warning)
					}
				}
			}

			if flags.jsonMode {
				return newOutputFormatter(flags).Print(out)
			}
			fmt.Printf("catflash %s\n", out["client"])
			if d, ok := out["daemon"]; ok {
				fmt.Printf("catflashd %s\n", d)
			}
			return nil
		},
	}
}
