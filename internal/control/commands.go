package control

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"talkpaste/internal/bootstrap"
	"talkpaste/internal/domain"
)

func newWatchCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the client headless and print recording and progress events",
		RunE: func(cmd *cobra.Command, args []string) error {
			sink := newPrintSink(cmd.OutOrStdout())
			return withServices(cmd.Context(), *cfgPath, sink, func(s *bootstrap.Services) error {
				s.Start(cmd.Context())
				settings := s.Settings.LoadSettings(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "connected  backend=%s shortcut=%s provider=%s\n",
					s.Config.Backend.URL, settings.Shortcut, settings.TranscriptionProvider)

				select {
				case <-cmd.Context().Done():
				case <-s.Backend.Done():
					return fmt.Errorf("backend connection lost")
				}
				return nil
			})
		},
	}
}

func newSettingsCmd(cfgPath *string) *cobra.Command {
	root := &cobra.Command{Use: "settings", Short: "Show or change settings"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				return printSettings(cmd, s.Settings.LoadSettings(cmd.Context()), jsonOut)
			})
		},
	}
	show.Flags().Bool("json", false, "output JSON")

	set := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Example: `  talkpastectl settings set --shortcut "Ctrl+Shift+Space"
  talkpastectl settings set --provider groq --ai-polish=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := patchFromFlags(cmd)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				s.Settings.LoadSettings(cmd.Context())
				settings, err := s.Settings.SaveSettings(cmd.Context(), patch)
				if err != nil {
					return err
				}
				return printSettings(cmd, settings, false)
			})
		},
	}
	set.Flags().Bool("ai-polish", true, "enable AI polishing of transcripts")
	set.Flags().String("shortcut", "", "global recording shortcut")
	set.Flags().String("provider", "", "transcription provider (gladia, groq, openai)")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				if err := s.Settings.ResetSettings(cmd.Context()); err != nil {
					return err
				}
				return printSettings(cmd, s.Settings.Settings(), false)
			})
		},
	}

	root.AddCommand(show, set, reset)
	return root
}

func patchFromFlags(cmd *cobra.Command) (domain.SettingsPatch, error) {
	var patch domain.SettingsPatch
	flags := cmd.Flags()
	if flags.Changed("ai-polish") {
		enabled, _ := flags.GetBool("ai-polish")
		patch.AIPolishEnabled = &enabled
	}
	if flags.Changed("shortcut") {
		shortcut, _ := flags.GetString("shortcut")
		patch.Shortcut = &shortcut
	}
	if flags.Changed("provider") {
		value, _ := flags.GetString("provider")
		provider := domain.TranscriptionProvider(value)
		patch.TranscriptionProvider = &provider
	}
	if patch == (domain.SettingsPatch{}) {
		return patch, fmt.Errorf("nothing to change; pass --ai-polish, --shortcut or --provider")
	}
	return patch, nil
}

func printSettings(cmd *cobra.Command, settings domain.Settings, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(settings)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ai_polish_enabled:      %t\n", settings.AIPolishEnabled)
	fmt.Fprintf(out, "shortcut:               %s\n", settings.Shortcut)
	fmt.Fprintf(out, "transcription_provider: %s\n", settings.TranscriptionProvider)
	return nil
}

func newDictionaryCmd(cfgPath *string) *cobra.Command {
	root := &cobra.Command{Use: "dictionary", Short: "Manage dictionary corrections"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dictionary entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				entries := s.Settings.LoadDictionary(cmd.Context())
				if jsonOut {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
				}
				for _, entry := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s => %s\n", entry.Original, entry.Correction)
				}
				return nil
			})
		},
	}
	list.Flags().Bool("json", false, "output JSON")

	del := &cobra.Command{
		Use:   "delete <original>",
		Short: "Delete the entry for a word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				if err := s.Settings.DeleteEntry(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", args[0])
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every dictionary entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				if err := s.Settings.ClearDictionary(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dictionary cleared")
				return nil
			})
		},
	}

	root.AddCommand(list, del, clearCmd)
	return root
}

func newHistoryCmd(cfgPath *string) *cobra.Command {
	root := &cobra.Command{Use: "history", Short: "Browse past transcriptions"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List transcriptions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				entries := s.Settings.LoadHistory(cmd.Context())
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				if jsonOut {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
				}
				for _, entry := range entries {
					at := time.UnixMilli(entry.Timestamp).Format("2006-01-02 15:04:05")
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", at, entry.Text)
				}
				return nil
			})
		},
	}
	list.Flags().Bool("json", false, "output JSON")
	list.Flags().IntP("limit", "n", 0, "show at most n entries")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				if err := s.Settings.ClearHistory(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
				return nil
			})
		},
	}

	root.AddCommand(list, clearCmd)
	return root
}

func newUpdateCmd(cfgPath *string) *cobra.Command {
	root := &cobra.Command{Use: "update", Short: "Check for and install new releases"}

	check := &cobra.Command{
		Use:   "check",
		Short: "Check GitHub for a newer release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), *cfgPath, newPrintSink(io.Discard), func(s *bootstrap.Services) error {
				if !s.Updates.CheckForUpdates(cmd.Context()) {
					state := s.Updates.State()
					if state.Status == domain.UpdateStatusError {
						return fmt.Errorf("update check failed: %s", state.Error)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "up to date (%s)\n", s.Config.Update.CurrentVersion)
					return nil
				}
				info := s.Updates.State().Info
				fmt.Fprintf(cmd.OutOrStdout(), "update available: %s\n", info.Version)
				if info.Body != "" {
					fmt.Fprintln(cmd.OutOrStdout(), info.Body)
				}
				return nil
			})
		},
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Download and install the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), *cfgPath, newPrintSink(cmd.OutOrStdout()), func(s *bootstrap.Services) error {
				if err := s.Updates.DownloadAndInstall(cmd.Context()); err != nil {
					return err
				}
				if s.Updates.State().Status == domain.UpdateStatusReady {
					fmt.Fprintln(cmd.OutOrStdout(), "installed; restart talkpaste to use the new version")
				}
				return nil
			})
		},
	}

	root.AddCommand(check, install)
	return root
}
