package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Short:   "List your live notification connections",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conns, err := beaconClient.Connections(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), conns)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONN\tTYPES\tCONNECTED\tIDLE\tFRAMES")
		for _, c := range conns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				c.ConnID,
				strings.Join(c.Types, ","),
				c.ConnectedAt.Local().Format(timeLayout),
				(time.Duration(c.IdleSecs) * time.Second).String(),
				c.FrameCount,
			)
		}
		return w.Flush()
	},
}
