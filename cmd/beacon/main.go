package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/client"
	"github.com/alfredjeanlab/beacon/internal/ui"
)

var (
	serverURL  string
	token      string
	jsonOutput bool

	beaconClient client.EventsClient
)

func defaultServerURL() string {
	if s := os.Getenv("BEACON_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8989"
}

func defaultToken() string {
	if s := os.Getenv("BEACON_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

// noClient overrides the root PersistentPreRunE for commands that talk to
// the store or the local remotes file instead of a server.
func noClient(*cobra.Command, []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:   "beacon <command>",
	Short: "Task lifecycle notifications over a pub/sub broker",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		beaconClient = client.NewHTTPClient(serverURL, token)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if beaconClient != nil {
			beaconClient.Close()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "session token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Events
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(typesCmd)

	// Tasks
	rootCmd.AddCommand(submitCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
