package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	studioLua "github.com/zhattention/agent-studio/internal/lua"
)

// runScript executes a Lua batch script. An interrupt aborts the run in
// flight and stops the script.
func runScript(cmd *cobra.Command, s *studio, path, prompt string) error {
	if !studioLua.IsScript(path) {
		return fmt.Errorf("not a Lua script: %s", path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt := studioLua.NewRuntime(s.orch, s.logger)
	err := rt.Execute(ctx, path, prompt)

	out := cmd.OutOrStdout()
	for _, line := range rt.GetLogs() {
		fmt.Fprintln(out, line)
	}
	for _, id := range rt.Sessions() {
		fmt.Fprintf(out, "execution %s\n", id)
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("script interrupted: %w", context.Cause(ctx))
		}
		return err
	}
	return nil
}
