package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDetectCmd() *cobra.Command {
	var flagBattery bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List attached cameras with their serial numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := loadRig(ctx, "")
			if err != nil {
				return err
			}
			snap := r.registry.Snapshot(ctx)
			discovered := snap.Discovered()
			if len(discovered) == 0 {
				return errors.New("no cameras detected, check that they are on and connected over USB")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tPORT\tSERIAL\tMODEL\tBATTERY")
			for i, addr := range discovered {
				info, ok := snap.Info(addr)
				if !ok {
					fmt.Fprintf(w, "-\t%s\t(unidentified)\t\t\n", addr)
					continue
				}
				battery := ""
				if flagBattery {
					if pct := r.battery(ctx, addr); pct != nil {
						battery = fmt.Sprintf("%d%%", *pct)
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, addr, info.Serial, info.Model, battery)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&flagBattery, "battery", true, "query battery levels")
	return cmd
}
