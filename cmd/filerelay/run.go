// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/filerelay/pkg/botsession"
	"github.com/aiku/filerelay/pkg/relay"
	"github.com/aiku/filerelay/pkg/store"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			log, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, cfg, *log)
		},
	}
}

func setupLogging(cfg *relay.Config) (*zerolog.Logger, error) {
	log, err := cfg.Logging.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	return log, nil
}

func runRelay(ctx context.Context, cfg *relay.Config, log zerolog.Logger) error {
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting filerelay")

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Err(err).Msg("Failed to close store")
		}
	}()

	session, err := botsession.Login(ctx, cfg.Mattermost, log)
	if err != nil {
		return err
	}
	log.Info().Str("username", session.Username()).Msg("Logged in to Mattermost")

	engine, err := relay.NewEngine(cfg, session, backend, backend, log)
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}
