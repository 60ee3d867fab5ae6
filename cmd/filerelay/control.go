// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiku/filerelay/pkg/store"
)

// withStore opens the configured store for a control subcommand.
func (o *rootOptions) withStore(ctx context.Context, fn func(store.Backend) error) error {
	cfg, err := o.loadConfig(false)
	if err != nil {
		return err
	}
	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer backend.Close()
	return fn(backend)
}

var sendKinds = map[string]store.CommandKind{
	"start": store.CommandStartParsing,
	"next":  store.CommandSendNextFile,
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:       "send start|next",
		Short:     "Queue a command for the running relay",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "next"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("user-id") {
				userID = cfg.OperatorID
			}
			backend, err := store.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer backend.Close()
			command := store.Command{
				Kind:      sendKinds[args[0]],
				UserID:    userID,
				Timestamp: store.UnixSeconds(time.Now()),
			}
			if err = backend.Publish(cmd.Context(), command); err != nil {
				return fmt.Errorf("failed to publish command: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", command.Kind)
			return err
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Requester ID to send, defaults to operator_id.")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the relay state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(backend store.Backend) error {
				state, err := backend.ReadState(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read state: %w", err)
				}
				mailingDone, err := backend.ReadSyncFlag(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read mailing flag: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(struct {
					store.State
					MailingCompleted bool `json:"mailing_completed"`
				}{state, mailingDone})
			})
		},
	}
}

func newRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Ask the relay to resend the last forwarded file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(backend store.Backend) error {
				if err := backend.SetRetryFlag(cmd.Context(), time.Now()); err != nil {
					return fmt.Errorf("failed to request retry: %w", err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Retry requested")
				return err
			})
		},
	}
}

func newMailingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "mailing done|started",
		Short:     "Report the state of the mailing that follows each forwarded file",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"done", "started"},
		RunE: func(cmd *cobra.Command, args []string) error {
			completed := args[0] == "done"
			return opts.withStore(cmd.Context(), func(backend store.Backend) error {
				if err := backend.WriteSyncFlag(cmd.Context(), completed); err != nil {
					return fmt.Errorf("failed to write mailing flag: %w", err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Mailing completed: %t\n", completed)
				return err
			})
		},
	}
}
