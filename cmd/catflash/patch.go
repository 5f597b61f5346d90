package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/patcher"
)

func newPatchCommand(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "patch DIR",
		Short: "Apply the RP2040 compatibility fixes to a sketch directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", args[0])
			}

			env, err := openLocal(flags)
			if err != nil {
				return err
			}
			defer env.Close()

			lex, err := env.orch.Patcher()
			if err != nil {
				return err
			}
			lex.DryRun = dryRun

			ctx, cancel := signalContext()
			defer cancel()
			outcomes, err := patcher.PatchDir(ctx, args[0], lex, env.console)
			if err != nil {
				return err
			}
			env.console.Finish()
			sum := patcher.Summarize(outcomes)

			if flags.jsonMode {
				return newOutputFormatter(flags).Print(map[string]any{
					"dry_run":  dryRun,
					"summary":  sum,
					"outcomes": outcomes,
				})
			}
			if dryRun {
				for _, o := range outcomes {
					if o.Preview != "" {
						fmt.Print(o.Preview)
					}
				}
			}
			fmt.Printf("%d file(s) scanned, %d changed, %d include(s) rewritten, %d commented, %d guard(s) added, %d failed\n",
				sum.Files, sum.Changed, sum.Rewritten, sum.Commented, sum.Guarded, sum.Failed)
			if sum.Failed > 0 {
				return fmt.Errorf("%d file(s) could not be patched", sum.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print a diff instead of writing files")
	return cmd
}
