package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"whispr-capture-service/internal/app"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the input devices of the configured driver",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		devices, err := application.Driver.InputDevices()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCHANNELS\tDEFAULT")
		for _, d := range devices {
			def := ""
			if d.IsDefault {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, d.Name, d.Channels, def)
		}
		return w.Flush()
	},
}
