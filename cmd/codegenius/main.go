package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"codegenius/internal/agent"
	"codegenius/internal/config"
	"codegenius/internal/journal"
	"codegenius/internal/llm"
	"codegenius/internal/llm/mockclient"
	"codegenius/internal/llm/openai"
	"codegenius/internal/logging"
	"codegenius/internal/prompts"
	"codegenius/internal/sandbox"
	"codegenius/internal/state"
)

// Version is set via -ldflags during build
var Version = "dev"

const retryDelay = 2 * time.Second

type rootFlags struct {
	configPath string
	workspace  string
	model      string
	resume     string
	prompt     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "codegenius",
		Short:         "Chat with a model that can create, read, update and delete files in a sandboxed workspace",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flags.prompt) != "" {
				return runOneShot(cmd.Context(), flags, flags.prompt)
			}
			return runChat(cmd.Context(), flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.codegenius/config.yaml)")
	pf.StringVar(&flags.workspace, "sandbox", "", "workspace root the agent may touch (overrides workspace_root)")
	pf.StringVar(&flags.model, "model", "", "model name (overrides config)")
	root.Flags().StringVar(&flags.resume, "resume", "", "resume a stored session key")
	root.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "execute a single prompt and exit")

	root.AddCommand(
		chatCmd(flags),
		runCmd(flags),
		sessionsCmd(flags),
		historyCmd(flags),
		configCmd(flags),
		checkCmd(flags),
	)
	return root
}

func chatCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive prompt (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.resume, "resume", "", "resume a stored session key")
	return cmd
}

func runCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Send one prompt, stream the reply and exit (reads stdin when no prompt is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("empty prompt")
			}
			return runOneShot(cmd.Context(), flags, text)
		},
	}
	cmd.Flags().StringVar(&flags.resume, "resume", "", "continue a stored session instead of starting a new one")
	return cmd
}

func runChat(ctx context.Context, flags *rootFlags) error {
	a, err := openApp(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	// Ctrl+C is handled by the console; only SIGTERM ends the session here.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	console := a.console(flags.resume, os.Stdin, os.Stdout)
	return console.Run(ctx)
}

func runOneShot(ctx context.Context, flags *rootFlags, text string) error {
	a, err := openApp(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := a.console(flags.resume, os.Stdin, os.Stdout)
	return console.RunOneShot(ctx, text)
}

// app holds everything a chat run needs.
type app struct {
	cfg          config.Config
	root         string
	systemPrompt string
	client       llm.Client
	store        *state.Store
	journal      *journal.Journal
	handler      *agent.FileOpsHandler
	loop         *agent.Loop
	logs         io.Closer
}

func loadConfig(flags *rootFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if path := strings.TrimSpace(flags.configPath); path != "" {
		cfg, err = config.Load(path)
	} else {
		if err := config.EnsureDefaultConfig(); err != nil {
			return config.Config{}, fmt.Errorf("ensure default config: %w", err)
		}
		cfg, err = config.LoadUserConfig()
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.OverrideWorkspaceRoot(flags.workspace)
	if m := strings.TrimSpace(flags.model); m != "" {
		cfg.Model = m
	}
	cfg.ApplyProjectStorage(config.ProjectStorageRoot(cfg.AbsWorkspaceRoot()))
	return cfg, nil
}

func openApp(flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logs, err := logging.Setup(logging.Options{Path: cfg.LogPath, JSON: cfg.LogJSON})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	a := &app{cfg: cfg, root: cfg.AbsWorkspaceRoot(), logs: logs}

	prompts.SetMetadata(buildEnvironmentMetadata(a.root))
	a.systemPrompt = prompts.Combine(cfg.SystemPrompt)

	if a.client, err = buildClient(cfg); err != nil {
		a.Close()
		return nil, err
	}

	exec, err := sandbox.NewExecutor(a.root, sandbox.WithLogger(logging.For("sandbox")))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init sandbox: %w", err)
	}
	if a.journal, err = journal.Open(cfg.JournalPath); err != nil {
		a.Close()
		return nil, err
	}
	if a.store, err = state.NewStore(cfg.SessionDir, a.systemPrompt, a.root, logging.For("state")); err != nil {
		a.Close()
		return nil, fmt.Errorf("init session store: %w", err)
	}

	a.handler = agent.NewFileOpsHandler(exec, agent.WithRecorder(a.journal))
	a.loop = agent.NewLoop(a.client, a.handler, a.systemPrompt, agent.Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxContext:  cfg.MaxContext,
		MaxTurns:    cfg.MaxTurns,
		Retries:     cfg.RetryAttempts,
		RetryDelay:  retryDelay,
	})
	logging.For("main").Info("workspace ready", logging.Fields{"root": a.root, "model": cfg.Model})
	return a, nil
}

func (a *app) console(resume string, in io.Reader, out io.Writer) *agent.Console {
	return agent.NewConsole(a.loop, a.handler, a.store, agent.ConsoleOptions{
		In:          in,
		Out:         out,
		ResumeKey:   resume,
		HistoryPath: a.cfg.HistoryPath,
		Journal:     a.journal,
		Workspace:   a.root,
		Model:       a.cfg.Model,
	})
}

func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

// buildClient picks the model backend. CODEGENIUS_MOCK_LLM=1 selects the
// echoing mock so the CLI can be exercised without network access.
func buildClient(cfg config.Config) (llm.Client, error) {
	if os.Getenv("CODEGENIUS_MOCK_LLM") == "1" {
		logging.UserLog("CODEGENIUS_MOCK_LLM=1 detected; using mock LLM client")
		return mockclient.New(), nil
	}
	if !cfg.HasAPIKey() {
		return nil, fmt.Errorf("no API key configured: set api_key in %s or export CODEGENIUS_API_KEY", config.ConfigPath())
	}
	return openai.New(cfg.APIKey, cfg.BaseURL, cfg.RequestTimeout()), nil
}
