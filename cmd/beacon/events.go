package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/client"
	"github.com/alfredjeanlab/beacon/internal/model"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List your events",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListEventsRequest{}
		req.Type, _ = cmd.Flags().GetStringSlice("type")
		req.Status, _ = cmd.Flags().GetString("status")
		req.Sort, _ = cmd.Flags().GetString("sort")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		req.Offset, _ = cmd.Flags().GetInt("offset")
		if cmd.Flags().Changed("completed") {
			v, _ := cmd.Flags().GetBool("completed")
			req.Completed = model.BoolPtr(v)
		}
		if cmd.Flags().Changed("viewed") {
			v, _ := cmd.Flags().GetBool("viewed")
			req.Viewed = model.BoolPtr(v)
		}
		if req.Status != "" && req.Status != model.StatusSuccess && req.Status != model.StatusError {
			return fmt.Errorf("--status must be %q or %q", model.StatusSuccess, model.StatusError)
		}

		resp, err := beaconClient.ListEvents(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp.Events)
		}
		printEventList(cmd.OutOrStdout(), resp.Events, resp.Total)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show an event",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := beaconClient.GetEvent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		printEvent(cmd.OutOrStdout(), e)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:     "cancel <id>",
	Short:   "Cancel a running event and revoke its task",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := beaconClient.CancelEvent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "canceled %s\n", e.ID)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry <id>",
	Short:   "Re-run a failed or canceled event",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := beaconClient.RetryEvent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"retried_id": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "retried %s as %s\n", args[0], id)
		return nil
	},
}

var viewCmd = &cobra.Command{
	Use:     "view [<id>]",
	Short:   "Mark an event, or with --all every completed event, as viewed",
	GroupID: "events",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all && len(args) > 0:
			return fmt.Errorf("--all takes no event id")
		case all:
			n, err := beaconClient.MarkAllViewed(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"updated": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d events viewed\n", n)
			return nil
		case len(args) == 0:
			return fmt.Errorf("an event id or --all is required")
		}

		e, err := beaconClient.ViewEvent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "viewed %s\n", e.ID)
		return nil
	},
}

var typesCmd = &cobra.Command{
	Use:     "types",
	Short:   "List the event types that accept subscriptions",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := beaconClient.Types(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), types)
		}
		if len(types) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(types, "\n"))
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server is reachable",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := beaconClient.Health(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": status})
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	listCmd.Flags().StringSliceP("type", "t", nil, "filter by event type (repeatable)")
	listCmd.Flags().Bool("completed", false, "only completed (or with =false, unfinished) events")
	listCmd.Flags().StringP("status", "s", "", "filter completed events by outcome: success or error")
	listCmd.Flags().Bool("viewed", false, "only viewed (or with =false, unviewed) events")
	listCmd.Flags().String("sort", "", "sort field, '-' prefix for descending (default -completed_at)")
	listCmd.Flags().Int("limit", 0, "page size (server default 10, max 50)")
	listCmd.Flags().Int("offset", 0, "offset for pagination")

	viewCmd.Flags().Bool("all", false, "mark every completed event viewed")
}
