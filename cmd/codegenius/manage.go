package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codegenius/internal/config"
	"codegenius/internal/journal"
	"codegenius/internal/llm"
	"codegenius/internal/logging"
	"codegenius/internal/prompts"
	"codegenius/internal/state"
)

func openStore(flags *rootFlags) (*state.Store, config.Config, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, cfg, err
	}
	store, err := state.NewStore(cfg.SessionDir, prompts.Combine(cfg.SystemPrompt), cfg.AbsWorkspaceRoot(), logging.For("state"))
	if err != nil {
		return nil, cfg, fmt.Errorf("open session store: %w", err)
	}
	return store, cfg, nil
}

func sessionsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View and manage stored sessions for the workspace",
	}
	cmd.AddCommand(sessionsListCmd(flags), sessionsDeleteCmd(flags), sessionsResetCmd(flags))
	return cmd
}

func sessionsListCmd(flags *rootFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(flags)
			if err != nil {
				return err
			}
			return printSummaries(cmd.OutOrStdout(), store.Summaries(), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(flags)
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session: %s\n", args[0])
			return nil
		},
	}
}

func sessionsResetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [key]",
		Short: "Clear session history (keep session)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(flags)
			if err != nil {
				return err
			}
			if _, err := store.Use(args[0]); err != nil {
				return err
			}
			if err := store.ClearCurrent(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset session: %s\n", args[0])
			return nil
		},
	}
}

func printSummaries(w io.Writer, summaries []state.Summary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No stored sessions for this workspace yet.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tMESSAGES\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Key, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func historyCmd(flags *rootFlags) *cobra.Command {
	var (
		limit      int
		runID      string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show file operations executed in this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			var entries []journal.Entry
			if runID != "" {
				entries, err = j.ForRun(cmd.Context(), runID)
			} else {
				entries, err = j.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries, jsonOutput)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of operations to show")
	cmd.Flags().StringVar(&runID, "run", "", "only show operations from this run ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printEntries(w io.Writer, entries []journal.Entry, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No file operations recorded yet.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tRUN\tTURN\tOPERATION\tPATH\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = e.Error
		}
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Session, run, e.Turn, e.Operation, e.Path, result)
	}
	return tw.Flush()
}

func configCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration (API key masked)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				cfg.APIKey = maskKey(cfg.APIKey)
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config file if none exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := config.EnsureDefaultConfig(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Config at %s\n", config.ConfigPath())
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), config.ConfigPath())
			},
		},
	)
	return cmd
}

func maskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func checkCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Send a short request to verify the model endpoint and key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			client, err := buildClient(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			reply, err := ping(ctx, client, cfg.Model)
			if err != nil {
				if pe, ok := llm.IsProviderError(err); ok {
					return fmt.Errorf("%s error from %s: %s", pe.Type, cfg.BaseURL, pe.Message)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s replied in %s: %s\n", cfg.Model, time.Since(start).Round(time.Millisecond), strings.TrimSpace(reply))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func ping(ctx context.Context, client llm.Client, model string) (string, error) {
	stream, err := client.Stream(ctx, llm.ChatRequest{
		Model: model,
		Messages: []state.Message{
			{Role: state.RoleUser, Content: "Reply with the single word: pong"},
		},
		MaxTokens: 16,
	})
	if err != nil {
		return "", err
	}
	return llm.Collect(stream)
}
