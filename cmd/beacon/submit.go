package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/client"
	"github.com/alfredjeanlab/beacon/internal/model"
)

var submitCmd = &cobra.Command{
	Use:     "submit <task>",
	Short:   "Submit a task run; its progress is reported as an event",
	GroupID: "tasks",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		rawArgs, _ := cmd.Flags().GetStringArray("arg")
		follow, _ := cmd.Flags().GetBool("follow")

		req := &client.SubmitTaskRequest{}
		if data != "" {
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			req.Data = json.RawMessage(data)
		}
		taskArgs, err := parseArgs(rawArgs)
		if err != nil {
			return err
		}
		req.Args = taskArgs

		resp, err := beaconClient.SubmitTask(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s: event %s (task %s)\n", args[0], resp.EventID, resp.TaskID)
		}
		if !follow {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		types, err := beaconClient.Types(ctx)
		if err != nil {
			return err
		}
		return followEvent(ctx, cmd, types, resp.EventID)
	},
}

// followEvent prints notifications for one event until it reaches a terminal
// state.
func followEvent(ctx context.Context, cmd *cobra.Command, types []string, eventID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out := cmd.OutOrStdout()
	return beaconClient.Watch(ctx, types, func(f client.Frame) {
		n, ok := f.Notifications[eventID]
		if !ok {
			return
		}
		if jsonOutput {
			fmt.Fprintln(out, string(f.Raw))
		} else {
			printNotifications(out, map[string]model.Notification{eventID: n})
		}
		if n.Action == model.ActionCompleted || n.Action == model.ActionCanceled {
			cancel()
		}
	})
}

// parseArgs turns repeated k=v flags into task args. Values that parse as
// JSON keep their JSON type; anything else is a string.
func parseArgs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func init() {
	submitCmd.Flags().String("data", "", "JSON request data passed to the task")
	submitCmd.Flags().StringArray("arg", nil, "task argument as key=value (repeatable)")
	submitCmd.Flags().BoolP("follow", "f", false, "stream the event's notifications until it finishes")
}
