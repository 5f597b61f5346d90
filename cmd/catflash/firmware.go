package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/selector"
)

func newFirmwareCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Inspect the downloaded firmware and choose a variant",
	}
	cmd.AddCommand(newFirmwareListCommand(flags), newFirmwareSelectCommand(flags))
	return cmd
}

type firmwareListing struct {
	Root       string          `json:"root"`
	Preference string          `json:"preference"`
	Board      string          `json:"board,omitempty"`
	Firmwares  []selector.Info `json:"firmwares"`
}

func newFirmwareListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List firmware variants in the downloaded tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openLocal(flags)
			if err != nil {
				return err
			}
			defer env.Close()

			candidates, err := env.orch.Firmwares()
			if err != nil {
				return err
			}
			pref, err := env.orch.Prefs().RelayPreference()
			if err != nil {
				return err
			}
			board, err := env.orch.Prefs().BoardPreference()
			if err != nil {
				return err
			}
			listing := firmwareListing{
				Root:       env.orch.FirmwareRoot(),
				Preference: string(pref),
				Board:      board,
				Firmwares:  selector.DescribeAll(candidates),
			}
			if flags.jsonMode {
				return newOutputFormatter(flags).Print(listing)
			}
			printFirmwareListing(listing)
			return nil
		},
	}
}

func printFirmwareListing(l firmwareListing) {
	if len(l.Firmwares) == 0 {
		fmt.Printf("No firmware found under %s. Run 'catflash flash' once to download it.\n", l.Root)
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tDESCRIPTION")
		for _, f := range l.Firmwares {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Type, f.Description)
		}
		w.Flush()
	}
	pref := l.Preference
	if pref == "" {
		pref = "(not set)"
	}
	fmt.Printf("\nRelay preference: %s\n", pref)
	if l.Board != "" {
		fmt.Printf("Board preference: %s\n", l.Board)
	}
}

func newFirmwareSelectCommand(flags *globalFlags) *cobra.Command {
	var board string
	cmd := &cobra.Command{
		Use:       "select PREFERENCE",
		Short:     "Store the firmware preference used by the next flash",
		Long:      "PREFERENCE is one of host, client, auto, detect or example.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"host", "client", "auto", "detect", "example"},
		RunE: func(cmd *cobra.Command, args []string) error {
			pref, err := selector.ParsePreference(args[0])
			if err != nil {
				return err
			}
			if pref == selector.PreferUnset {
				return fmt.Errorf("preference must not be empty")
			}

			env, err := openLocal(flags)
			if err != nil {
				return err
			}
			defer env.Close()

			prefs := env.orch.Prefs()
			if err := prefs.SetRelayPreference(pref); err != nil {
				return err
			}
			if board != "" {
				if err := prefs.SetBoardPreference(board); err != nil {
					return err
				}
			}
			if flags.jsonMode {
				return newOutputFormatter(flags).Print(map[string]string{"preference": string(pref), "board": board})
			}
			fmt.Printf("Firmware preference set to %s\n", pref)
			if board != "" {
				fmt.Printf("Board preference set to %s\n", board)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&board, "board", "", "also store a preferred board FQBN")
	return cmd
}
