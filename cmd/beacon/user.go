package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/config"
	"github.com/alfredjeanlab/beacon/internal/model"
	"github.com/alfredjeanlab/beacon/internal/store"
)

var userCmd = &cobra.Command{
	Use:     "user",
	Short:   "Manage principals and their sessions in the store",
	GroupID: "system",
	// User commands write to the store directly.
	PersistentPreRunE: noClient,
}

var userAddCmd = &cobra.Command{
	Use:   "add <id> <username>",
	Short: "Create or update a principal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		rawAttrs, _ := cmd.Flags().GetStringArray("attr")
		attrs, err := parseArgs(rawAttrs)
		if err != nil {
			return err
		}
		p := &model.Principal{ID: args[0], Username: args[1], Email: email, Attrs: attrs}

		return withStore(cmd, func(st store.Store) error {
			if err := st.SavePrincipal(cmd.Context(), p); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved user %s (%s)\n", p.ID, p.Username)
			return nil
		})
	},
}

var userSessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Issue a session token for a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		var expiresAt *time.Time
		if ttl > 0 {
			t := time.Now().UTC().Add(ttl)
			expiresAt = &t
		}
		token := uuid.NewString()

		return withStore(cmd, func(st store.Store) error {
			if err := st.CreateSession(cmd.Context(), token, args[0], expiresAt); err != nil {
				return fmt.Errorf("creating session for %s: %w", args[0], err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"token": token, "user_id": args[0], "expires_at": expiresAt})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg, newLogger(cmd))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func init() {
	userAddCmd.Flags().String("email", "", "email address")
	userAddCmd.Flags().StringArray("attr", nil, "routing attribute as key=value (repeatable)")
	userSessionCmd.Flags().Duration("ttl", 0, "session lifetime (0 = never expires)")

	userCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userSessionCmd)
}
