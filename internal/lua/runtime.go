package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/zhattention/agent-studio/internal/models"
	"github.com/zhattention/agent-studio/internal/orchestrator"
)

// ErrScriptFailed is returned when a script calls fail().
var ErrScriptFailed = errors.New("script failed")

// Runner executes one team run and returns the final session.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*models.Session, error)
}

// Runtime executes Lua batch scripts in a sandboxed environment. A script
// defines workflow(prompt) and drives teams through run(team, content).
type Runtime struct {
	runner Runner
	logger *slog.Logger
	ctx    context.Context

	prompt   string
	sessions []string
	logs     []string

	failReason string
	failed     bool
}

func NewRuntime(runner Runner, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{runner: runner, logger: logger}
}

// Execute runs the script at scriptPath with the given prompt.
func (r *Runtime) Execute(ctx context.Context, scriptPath, prompt string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	return r.ExecuteString(ctx, string(script), prompt)
}

// ExecuteString runs script with the given prompt.
func (r *Runtime) ExecuteString(ctx context.Context, script, prompt string) error {
	r.ctx = ctx
	r.prompt = prompt
	r.sessions = nil
	r.logs = nil
	r.failed = false
	r.failReason = ""

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	workflow := L.GetGlobal("workflow")
	if workflow.Type() != lua.LTFunction {
		return fmt.Errorf("script must define a 'workflow' function")
	}

	L.Push(workflow)
	L.Push(lua.LString(prompt))
	err := L.PCall(1, 0, nil)
	if r.failed {
		r.logger.Warn("script failed", slog.String("reason", r.failReason))
		return fmt.Errorf("%w: %s", ErrScriptFailed, r.failReason)
	}
	if err != nil {
		return fmt.Errorf("workflow execution failed: %w", err)
	}
	return nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("run", L.NewFunction(r.luaRun))
	L.SetGlobal("fail", L.NewFunction(r.luaFail))
	L.SetGlobal("context", L.NewFunction(r.luaContext))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaRun implements run(team, content?, full_message?). It blocks until the
// run ends and returns a summary table. Transport failures are reported in
// the table, not raised.
func (r *Runtime) luaRun(L *lua.LState) int {
	team := L.CheckString(1)
	content := L.OptString(2, r.prompt)
	fullMessage := L.OptBool(3, false)

	session, err := r.runner.Run(r.ctx, orchestrator.RunRequest{
		Team:        team,
		Content:     content,
		FullMessage: fullMessage,
	})
	if session == nil {
		if err == nil {
			err = errors.New("no session")
		}
		L.RaiseError("run %s: %v", team, err)
		return 0
	}
	r.sessions = append(r.sessions, session.ID)

	tbl := sessionTable(L, session)
	if err != nil && session.Error == "" {
		L.SetField(tbl, "error", lua.LString(err.Error()))
	}
	L.Push(tbl)
	return 1
}

func sessionTable(L *lua.LState, s *models.Session) *lua.LTable {
	usage := s.Usage()

	tbl := L.NewTable()
	L.SetField(tbl, "session_id", lua.LString(s.ID))
	L.SetField(tbl, "status", lua.LString(s.Status))
	L.SetField(tbl, "error", lua.LString(s.Error))
	L.SetField(tbl, "prompt_tokens", lua.LNumber(usage.PromptTokens))
	L.SetField(tbl, "completion_tokens", lua.LNumber(usage.CompletionTokens))

	agents := L.NewTable()
	messages := L.NewTable()
	for _, agent := range s.AgentOrder {
		agents.Append(lua.LString(agent))
		events := s.AgentEvents[agent]
		if len(events) > 0 {
			L.SetField(messages, agent, lua.LString(events[len(events)-1].ContentText()))
		}
	}
	L.SetField(tbl, "agents", agents)
	L.SetField(tbl, "messages", messages)

	if last, ok := lastEvent(s); ok {
		L.SetField(tbl, "last_message", lua.LString(last.ContentText()))
	}
	return tbl
}

// lastEvent returns the event with the latest timestamp. Ties go to the
// agent that appeared later.
func lastEvent(s *models.Session) (models.ThreadEvent, bool) {
	var last models.ThreadEvent
	found := false
	for _, agent := range s.AgentOrder {
		for _, event := range s.AgentEvents[agent] {
			if !found || !event.Before(last) {
				last = event
				found = true
			}
		}
	}
	return last, found
}

// luaFail implements fail(reason?)
func (r *Runtime) luaFail(L *lua.LState) int {
	r.failReason = L.OptString(1, "workflow failed")
	r.failed = true
	L.RaiseError("fail: %s", r.failReason)
	return 0
}

func (r *Runtime) luaContext(L *lua.LState) int {
	tbl := L.NewTable()
	L.SetField(tbl, "prompt", lua.LString(r.prompt))
	L.SetField(tbl, "runs", lua.LNumber(len(r.sessions)))
	L.Push(tbl)
	return 1
}

func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	r.logger.Info("script", slog.String("message", message))
	return 0
}

// GetLogs returns the messages logged by the last script.
func (r *Runtime) GetLogs() []string {
	return r.logs
}

// Sessions returns the ids of the sessions started by the last script.
func (r *Runtime) Sessions() []string {
	return r.sessions
}

// IsScript reports whether path names a Lua script.
func IsScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}
