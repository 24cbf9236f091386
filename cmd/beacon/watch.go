package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/client"
)

var watchCmd = &cobra.Command{
	Use:     "watch [<type>...]",
	Short:   "Stream live notifications for event types",
	GroupID: "events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		types := args
		if len(types) == 0 {
			all, err := beaconClient.Types(ctx)
			if err != nil {
				return err
			}
			types = all
		}
		if len(types) == 0 {
			return fmt.Errorf("server has no subscribable event types")
		}
		return watch(ctx, cmd, types)
	},
}

func watch(ctx context.Context, cmd *cobra.Command, types []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	return beaconClient.Watch(ctx, types, func(f client.Frame) {
		switch {
		case f.Error != "":
			fmt.Fprintf(errOut, "server: %s\n", f.Error)
		case jsonOutput:
			fmt.Fprintln(out, string(f.Raw))
		case f.Notifications != nil:
			printNotifications(out, f.Notifications)
		}
	})
}
