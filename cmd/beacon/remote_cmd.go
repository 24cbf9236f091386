package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// tokenPrefix is how much of a session token list and show reveal.
const tokenPrefix = 8

var remoteCmd = &cobra.Command{
	Use:               "remote",
	Short:             "Manage named server profiles",
	GroupID:           "system",
	PersistentPreRunE: noClient,
}

// editRemotes loads the profiles, applies fn, and saves the result.
func editRemotes(fn func(*RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, _ := cmd.Flags().GetString("token")
		err := editRemotes(func(c *RemotesConfig) error {
			c.Remotes[args[0]] = Remote{URL: args[1], Token: tok}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q added (%s)\n", args[0], args[1])
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := editRemotes(func(c *RemotesConfig) error { return c.Remove(args[0]) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", args[0])
		return nil
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := editRemotes(func(c *RemotesConfig) error { return c.Use(args[0]) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", args[0])
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles; the active one is starred",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no remotes configured")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tTOKEN")
		for _, name := range cfg.Names() {
			r := cfg.Remotes[name]
			star := " "
			if name == cfg.Active {
				star = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\n", star, name, r.URL, maskToken(r.Token, "..."))
		}
		return w.Flush()
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show a profile (defaults to the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		var want string
		if len(args) == 1 {
			want = args[0]
		}
		name, r, err := cfg.Lookup(want)
		if err != nil {
			return err
		}

		if name == cfg.Active {
			name += " (active)"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "name:\t%s\n", name)
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		if r.Token != "" {
			fmt.Fprintf(w, "token:\t%s\n", maskToken(r.Token, strings.Repeat("*", max(len(r.Token)-tokenPrefix, 0))))
		}
		return w.Flush()
	},
}

// maskToken keeps the first tokenPrefix characters of a token and replaces
// the rest with suffix. Short tokens are shown as is.
func maskToken(tok, suffix string) string {
	if len(tok) <= tokenPrefix {
		return tok
	}
	return tok[:tokenPrefix] + suffix
}

func init() {
	remoteAddCmd.Flags().String("token", "", "session token for this server")

	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteListCmd, remoteUseCmd, remoteShowCmd)
}
