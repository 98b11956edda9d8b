package control

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"talkpaste/internal/bootstrap"
	"talkpaste/internal/ports"
)

// NewRootCmd builds the talkpastectl command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "talkpastectl",
		Short: "Inspect and drive the TalkPaste backend from a terminal",
		Long: `talkpastectl connects to the TalkPaste backend the same way the desktop
app does and exposes its state for scripting and debugging.

Key commands:
  watch                         Mirror recording state and progress
  settings show|set|reset       Manage settings
  dictionary list|delete|clear  Manage dictionary corrections
  history list|clear            Browse past transcriptions
  update check|install          Self-update from GitHub releases

Env overrides: TALKPASTE_BACKEND_URL, TALKPASTE_LOG_LEVEL/FORMAT,
               TALKPASTE_CONFIG`,
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
	}
	root.Version = version
	root.SetVersionTemplate("talkpastectl {{.Version}}\n")
	root.CompletionOptions.DisableDefaultCmd = true

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/talkpaste/config.toml")

	root.AddCommand(newWatchCmd(cfgPath))
	root.AddCommand(newSettingsCmd(cfgPath))
	root.AddCommand(newDictionaryCmd(cfgPath))
	root.AddCommand(newHistoryCmd(cfgPath))
	root.AddCommand(newUpdateCmd(cfgPath))
	return root
}

// withServices builds the runtime graph for one command and closes it after.
func withServices(ctx context.Context, cfgPath string, sink ports.EventSink, fn func(*bootstrap.Services) error) error {
	services, err := bootstrap.Build(ctx, sink, bootstrap.Options{ConfigPath: cfgPath})
	if err != nil {
		return fmt.Errorf("start talkpaste: %w", err)
	}
	defer services.Close()
	return fn(services)
}
