package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zhattention/agent-studio/internal/backend"
	"github.com/zhattention/agent-studio/internal/config"
	"github.com/zhattention/agent-studio/internal/execution"
	"github.com/zhattention/agent-studio/internal/models"
	"github.com/zhattention/agent-studio/internal/orchestrator"
	"github.com/zhattention/agent-studio/internal/storage"
	"github.com/zhattention/agent-studio/internal/teamconfig"
	"github.com/zhattention/agent-studio/internal/tui"
	"github.com/zhattention/agent-studio/internal/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "studio",
		Short:         "Agent team studio",
		Long:          "Studio compiles agent team configs to and from canvas graphs and runs teams against the execution backend.",
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newExpandCommand())
	rootCmd.AddCommand(newSaveCommand())
	rootCmd.AddCommand(newConfigsCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWorkspaceCommand())
	rootCmd.AddCommand(newJobsCommand())
	rootCmd.AddCommand(newScriptCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// studio holds everything a command may need. It is built once per command.
type studio struct {
	cfg     *config.Config
	logger  *slog.Logger
	history *storage.Storage
	configs *teamconfig.FileStore
	orch    *orchestrator.Orchestrator
}

func openStudio() (*studio, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	history, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configs, err := teamconfig.NewFileStore(logger, cfg.ConfigDir, cfg.ProjectConfigDir)
	if err != nil {
		history.Close()
		return nil, err
	}

	client, err := backend.New(cfg.BackendURL, cfg.APIToken, &http.Client{}, logger)
	if err != nil {
		history.Close()
		return nil, err
	}

	registry := execution.NewRegistry(
		execution.WithRecorder(history),
		execution.WithLogger(logger),
	)

	orch := orchestrator.New(orchestrator.Deps{
		Configs:    configs,
		Backend:    client,
		Registry:   registry,
		History:    history,
		RunTimeout: cfg.RunTimeout,
		Logger:     logger,
	})

	return &studio{cfg: cfg, logger: logger, history: history, configs: configs, orch: orch}, nil
}

func (s *studio) Close() {
	s.orch.Close()
	s.history.Close()
}

func (s *studio) workspaces() *workspace.Store {
	return workspace.New(s.cfg.WorkspacesDir())
}

// withStudio adapts a command body that needs an open studio.
func withStudio(fn func(cmd *cobra.Command, s *studio, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openStudio()
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, s, args)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	return withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
		teams, err := s.orch.ListConfigs()
		if err != nil {
			return fmt.Errorf("failed to list configs: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		app := tui.NewApp(ctx, s.orch, teams)
		p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
		_, err = p.Run()
		return err
	})(cmd, args)
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <team> <content>",
		Short: "Run a team on the backend and print its events",
		Args:  cobra.ExactArgs(2),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			fullMessage, _ := cmd.Flags().GetBool("full-message")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			session, err := s.orch.Run(ctx, orchestrator.RunRequest{
				Team:        args[0],
				Content:     args[1],
				FullMessage: fullMessage,
			})
			if session != nil {
				printSession(cmd, session)
			}
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			if session.Status == models.SessionError {
				return fmt.Errorf("run ended with error: %s", session.Error)
			}
			return nil
		}),
	}
	cmd.Flags().Bool("full-message", false, "Pass the full message thread between agents")
	return cmd
}

func printSession(cmd *cobra.Command, s *models.Session) {
	out := cmd.OutOrStdout()
	usage := s.Usage()
	fmt.Fprintf(out, "Execution %s (%s): %s\n", s.ID, s.TeamName, s.Status)
	if s.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", s.Error)
	}
	for _, agent := range s.AgentOrder {
		fmt.Fprintf(out, "\n== %s ==\n", agent)
		for _, event := range s.AgentEvents[agent] {
			fmt.Fprintf(out, "[%s] %s\n", event.Type, event.ContentText())
		}
	}
	fmt.Fprintf(out, "\nTokens: %d prompt, %d completion, %d total\n", usage.PromptTokens, usage.CompletionTokens, usage.Total())
}

func newExpandCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "expand <team>",
		Short: "Print the canvas graph of a team and its sub-teams as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			g, rootID, err := s.orch.LoadGraph(args[0])
			if err != nil {
				return err
			}
			s.logger.Info("team expanded", slog.String("root", rootID), slog.Int("nodes", len(g.Nodes)))
			return writeJSON(cmd, g)
		}),
	}
}

func newSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <graph.json> <root-node-id>",
		Short: "Save the team rooted at a canvas node, with its sub-teams",
		Args:  cobra.ExactArgs(2),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			g, err := readGraph(args[0])
			if err != nil {
				return err
			}
			names, err := s.orch.SaveGraph(g, args[1])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", name)
			}
			return nil
		}),
	}
}

func newConfigsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List stored team configs",
		Args:  cobra.NoArgs,
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			names, err := s.orch.ListConfigs()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No configs found.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a YAML team config",
		Args:  cobra.ExactArgs(1),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			names, err := s.orch.ImportYAML(args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", name)
			}
			return nil
		}),
	}
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded executions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		Args:  cobra.NoArgs,
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			sessions, err := s.orch.History(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No executions found.")
				return nil
			}
			for _, session := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%-44s %-18s %-10s %s\n",
					session.ID, session.TeamName, session.Status, storage.FormatTimeAgo(session.StartedAt))
			}
			return nil
		}),
	}
	list.Flags().IntP("limit", "n", 20, "Maximum number of executions")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one execution with its events",
		Args:  cobra.ExactArgs(1),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			session, err := s.orch.OpenHistory(args[0])
			if err != nil {
				return err
			}
			printSession(cmd, session)
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one execution",
		Args:  cobra.ExactArgs(1),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			return s.orch.DeleteHistory(args[0])
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded execution",
		Args:  cobra.NoArgs,
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			return s.orch.ClearHistory()
		}),
	}

	cmd.AddCommand(list, show, del, clearCmd)
	return cmd
}

func newWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage versioned canvas snapshots",
	}

	save := &cobra.Command{
		Use:   "save <name> <graph.json>",
		Short: "Save a canvas graph as the next version",
		Args:  cobra.ExactArgs(2),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			g, err := readGraph(args[1])
			if err != nil {
				return err
			}
			version, err := s.workspaces().Save(args[0], g)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s version %s\n", args[0], version)
			return nil
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			names, err := s.workspaces().List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}

	versions := &cobra.Command{
		Use:   "versions <name>",
		Short: "List the versions of a workspace, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			versions, err := s.workspaces().Versions(args[0])
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d nodes  %d edges\n",
					v.Version, v.Timestamp.Format("2006-01-02 15:04:05"), v.Nodes, v.Edges)
			}
			return nil
		}),
	}

	load := &cobra.Command{
		Use:   "load <name> [version]",
		Short: "Print a saved canvas graph, the latest version by default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			var snapshot *workspace.Snapshot
			var err error
			if len(args) == 2 {
				snapshot, err = s.workspaces().Load(args[0], args[1])
			} else {
				snapshot, _, err = s.workspaces().LoadLatest(args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, snapshot.Graph())
		}),
	}

	del := &cobra.Command{
		Use:   "delete <name> [version]",
		Short: "Delete a workspace or one of its versions",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			if len(args) == 2 {
				return s.workspaces().DeleteVersion(args[0], args[1])
			}
			return s.workspaces().Delete(args[0])
		}),
	}

	cmd.AddCommand(save, list, versions, load, del)
	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs on the execution backend",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List backend jobs",
		Args:  cobra.NoArgs,
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			raw, err := s.orch.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			return writeRaw(cmd, raw)
		}),
	}

	stop := &cobra.Command{
		Use:   "stop <team>",
		Short: "Stop the running job of a team",
		Args:  cobra.ExactArgs(1),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			raw, err := s.orch.StopJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeRaw(cmd, raw)
		}),
	}

	cmd.AddCommand(list, stop)
	return cmd
}

func newScriptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "script <file.lua> <prompt>",
		Short: "Run a Lua batch script that drives team runs",
		Args:  cobra.ExactArgs(2),
		RunE: withStudio(func(cmd *cobra.Command, s *studio, args []string) error {
			return runScript(cmd, s, args[0], args[1])
		}),
	}
}

func readGraph(path string) (*models.CanvasGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph: %w", err)
	}
	var g models.CanvasGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph %s: %w", path, err)
	}
	return &g, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRaw pretty-prints a JSON reply, or prints it as is when it is not
// JSON.
func writeRaw(cmd *cobra.Command, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	return writeJSON(cmd, v)
}
