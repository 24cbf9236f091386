package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// eventState collapses the lifecycle flags into one label.
func eventState(e *model.Event) string {
	switch {
	case e.Retried:
		return "retried"
	case e.Canceled:
		return "canceled"
	case e.Success():
		return "success"
	case e.Failure():
		return "failed"
	case e.Started:
		return "running"
	default:
		return "pending"
	}
}

func renderState(state string) string {
	switch state {
	case "success":
		return ui.RenderOK(state)
	case "failed":
		return ui.RenderFail(state)
	case "running":
		return ui.RenderAccent(state)
	case "canceled", "retried":
		return ui.RenderWarn(state)
	default:
		return ui.RenderMuted(state)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func printEvent(w io.Writer, e *model.Event) {
	fmt.Fprintf(w, "ID:          %s\n", e.ID)
	fmt.Fprintf(w, "Type:        %s\n", e.Type)
	fmt.Fprintf(w, "State:       %s\n", renderState(eventState(e)))
	if e.TaskName != "" {
		fmt.Fprintf(w, "Task:        %s (%s)\n", e.TaskName, e.TaskID)
	}
	fmt.Fprintf(w, "Routing:     %s", e.RoutingStrategy)
	if e.RoutingKey != "" {
		fmt.Fprintf(w, " = %s", e.RoutingKey)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Viewed:      %t\n", e.Viewed)
	fmt.Fprintf(w, "Created At:  %s\n", e.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "Started At:  %s\n", formatTime(e.StartedAt))
	fmt.Fprintf(w, "Completed:   %s\n", formatTime(e.CompletedAt))
	if len(e.Result) > 0 {
		fmt.Fprintf(w, "Result:      %s\n", e.Result)
	}
}

func printEventList(w io.Writer, events []*model.Event, total int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tVIEWED\tCOMPLETED")
	for _, e := range events {
		viewed := ""
		if e.Viewed {
			viewed = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Type,
			renderState(eventState(e)),
			viewed,
			formatTime(e.CompletedAt),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d events (%d total)\n", len(events), total)
}

// printNotifications writes one line per notification, ordered by event id
// so multi-event frames print deterministically.
func printNotifications(w io.Writer, ns map[string]model.Notification) {
	ids := make([]string, 0, len(ns))
	for id := range ns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := ns[id]
		line := fmt.Sprintf("%s  %s  %s", id, n.Type, n.Action)
		switch n.Action {
		case model.ActionProgressChange:
			line += fmt.Sprintf("  %v%%", n.Status)
		case model.ActionCompleted:
			if n.Status == model.StatusSuccess {
				line += "  " + ui.RenderOK(model.StatusSuccess)
			} else {
				line += "  " + ui.RenderFail(fmt.Sprint(n.Status))
			}
		}
		if n.Body != nil {
			if b, err := json.Marshal(n.Body); err == nil {
				line += "  " + ui.RenderMuted(string(b))
			}
		}
		if n.Error != nil {
			line += "  " + ui.RenderFail(fmt.Sprint(n.Error))
		}
		fmt.Fprintln(w, line)
	}
}
