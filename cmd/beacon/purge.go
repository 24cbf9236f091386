package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/archive"
	"github.com/alfredjeanlab/beacon/internal/config"
)

var purgeCmd = &cobra.Command{
	Use:               "purge",
	Short:             "Archive and delete viewed events past the retention period",
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if days, _ := cmd.Flags().GetInt("days"); days > 0 {
			cfg.StoreDays = days
		}

		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		sweeper := archive.NewSweeper(st, archiveDestinations(cmd.Context(), cfg, logger), cfg.Retention(), logger)
		n, err := sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d events older than %d days\n", n, cfg.StoreDays)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Int("days", 0, "override BEACON_STORE_DAYS for this run")
	purgeCmd.Flags().Bool("debug", false, "enable debug logging")
}
