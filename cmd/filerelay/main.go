// Copyright 2024-2026 Aiku AI

// Command filerelay keeps a Mattermost consumer bot supplied with data files
// produced on demand by a source bot. The run subcommand starts the relay,
// the other subcommands talk to a running relay through its store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiku/filerelay/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type rootOptions struct {
	configPath string
	noUpdate   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "filerelay",
		Short:        "Relay produced data files from a source bot to a consumer bot",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Config file path.")
	cmd.PersistentFlags().BoolVarP(&opts.noUpdate, "no-update", "n", false, "Don't save the config file after filling in missing options.")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newRetryCmd(opts))
	cmd.AddCommand(newMailingCmd(opts))
	cmd.AddCommand(newGenerateConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the config file. Only the run subcommand writes the
// upgraded file back.
func (o *rootOptions) loadConfig(save bool) (*relay.Config, error) {
	cfg, err := relay.LoadConfig(o.configPath, save && !o.noUpdate)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", o.configPath, err)
	}
	return cfg, nil
}

func newGenerateConfigCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Print or write the example config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), relay.ExampleConfig)
				return err
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists", output)
			}
			if err := os.WriteFile(output, []byte(relay.ExampleConfig), 0o600); err != nil {
				return fmt.Errorf("failed to write example config: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote example config to %s\n", output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout.")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "filerelay %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
			return err
		},
	}
}
