// Package orchestrator wires the team store, the canvas compiler, the
// execution backend and the session registry into the operations the CLI and
// the TUI call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zhattention/agent-studio/internal/backend"
	"github.com/zhattention/agent-studio/internal/execution"
	"github.com/zhattention/agent-studio/internal/graph"
	"github.com/zhattention/agent-studio/internal/models"
	"github.com/zhattention/agent-studio/internal/storage"
	"github.com/zhattention/agent-studio/internal/stream"
	"github.com/zhattention/agent-studio/internal/teamconfig"
)

var ErrNoHistory = errors.New("history is not configured")

// Backend is the part of backend.Client the orchestrator needs.
type Backend interface {
	CallStream(ctx context.Context, request backend.CallRequest) (io.ReadCloser, error)
	ListJobs(ctx context.Context) ([]byte, error)
	StopJob(ctx context.Context, team string) ([]byte, error)
}

type Deps struct {
	Configs  *teamconfig.FileStore
	Backend  Backend
	Registry *execution.Registry
	// History is optional.
	History    *storage.Storage
	RunTimeout time.Duration
	Logger     *slog.Logger
	// NodeIDs defaults to graph.UUIDNodeIDs.
	NodeIDs graph.IDFunc
}

type Orchestrator struct {
	configs    *teamconfig.FileStore
	backend    Backend
	registry   *execution.Registry
	history    *storage.Storage
	expander   *graph.Expander
	contractor *graph.Contractor
	pump       *stream.Pump
	logger     *slog.Logger

	mu   sync.Mutex
	runs map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// RunRequest starts one team execution.
type RunRequest struct {
	Team        string
	Content     string
	FullMessage bool
}

func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = execution.NewRegistry(execution.WithLogger(logger))
	}
	return &Orchestrator{
		configs:    deps.Configs,
		backend:    deps.Backend,
		registry:   registry,
		history:    deps.History,
		expander:   graph.NewExpander(logger, deps.NodeIDs),
		contractor: graph.NewContractor(logger),
		pump:       &stream.Pump{Timeout: deps.RunTimeout, Logger: logger},
		logger:     logger,
		runs:       make(map[string]*activeRun),
	}
}

func (o *Orchestrator) Registry() *execution.Registry {
	return o.registry
}

// LoadGraph loads team name with its sub-teams and lays it out on an empty
// canvas.
func (o *Orchestrator) LoadGraph(name string) (*models.CanvasGraph, string, error) {
	g := &models.CanvasGraph{Nodes: []models.GraphNode{}, Edges: []models.GraphEdge{}}
	exp, err := o.AppendTeam(g, name, "")
	if err != nil {
		return nil, "", err
	}
	return g, exp.RootTeamNodeID, nil
}

// AppendTeam loads team name and adds it to the right of g. When
// parentNodeID is set the new team is wired below that node.
func (o *Orchestrator) AppendTeam(g *models.CanvasGraph, name, parentNodeID string) (*graph.Expansion, error) {
	tree, err := o.configs.LoadTree(name)
	if err != nil {
		return nil, fmt.Errorf("load team %s: %w", name, err)
	}
	exp, err := o.expander.AppendTo(g, tree, parentNodeID)
	if err != nil {
		return nil, fmt.Errorf("expand team %s: %w", name, err)
	}
	return exp, nil
}

// SaveGraph rebuilds the team rooted at rootNodeID and stores it with every
// sub-team. g is not modified, and nothing is written if the graph does not
// contract into a valid team.
func (o *Orchestrator) SaveGraph(g *models.CanvasGraph, rootNodeID string) ([]string, error) {
	tree, err := o.contractor.Contract(rootNodeID, g.Clone())
	if err != nil {
		return nil, fmt.Errorf("contract graph: %w", err)
	}
	names, err := o.configs.SaveTree(tree)
	if err != nil {
		return names, fmt.Errorf("save team %s: %w", tree.Name, err)
	}
	return names, nil
}

func (o *Orchestrator) ListConfigs() ([]string, error) {
	return o.configs.List()
}

// ImportYAML stores the team described by a YAML file.
func (o *Orchestrator) ImportYAML(path string) ([]string, error) {
	tree, err := teamconfig.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return o.configs.SaveTree(tree)
}

// Start opens the backend stream for req and pumps it into a new session in
// the background. The returned id is valid even when err is not nil: the
// session then records the failure.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (string, error) {
	id, _, err := o.start(ctx, req)
	return id, err
}

func (o *Orchestrator) start(ctx context.Context, req RunRequest) (string, *activeRun, error) {
	id := o.registry.Start(req.Team)

	// Registered before the request goes out: Abort and the hard timeout
	// cover the wait for response headers too.
	runCtx, cancel := o.pump.Bound(ctx)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.runs[id] = run
	o.mu.Unlock()

	body, err := o.backend.CallStream(runCtx, backend.CallRequest{
		TeamName:    req.Team,
		Content:     req.Content,
		FullMessage: req.FullMessage,
		ExecutionID: id,
	})
	if err != nil {
		err = o.failStart(runCtx, id, err)
		cancel()
		run.err = err
		o.finish(id, run)
		return id, nil, fmt.Errorf("start %s: %w", req.Team, err)
	}

	go func() {
		defer o.finish(id, run)
		defer cancel()

		err := o.pump.Run(runCtx, id, body, o.registry)
		if errors.Is(err, execution.ErrSessionTerminal) {
			err = nil
		}
		run.err = err
	}()

	return id, run, nil
}

// failStart records why the stream could not be opened and returns the error
// to report: the timeout or abort cause when the run context ended first.
func (o *Orchestrator) failStart(runCtx context.Context, id string, err error) error {
	var rerr error
	switch cause := context.Cause(runCtx); {
	case errors.Is(cause, stream.ErrTimedOut):
		o.logger.Warn("execution timed out before the stream opened", slog.String("session", id))
		rerr = o.registry.IngestFrame(id, stream.TimeoutFrame(cause))
		err = cause
	case cause != nil:
		o.logger.Info("execution aborted before the stream opened", slog.String("session", id))
		rerr = o.registry.Abort(id)
		err = cause
	default:
		rerr = o.registry.Fail(id, err)
	}
	if rerr != nil {
		o.logger.Debug("failure ignored", slog.String("session", id), slog.Any("error", rerr))
	}
	return err
}

func (o *Orchestrator) finish(id string, run *activeRun) {
	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()
	close(run.done)
}

// Run executes req and waits for it to end. It returns the final session
// snapshot together with the transport error, if any.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*models.Session, error) {
	id, run, err := o.start(ctx, req)
	if err == nil {
		<-run.done
		err = run.err
	}
	session, _ := o.registry.Get(id)
	return session, err
}

// Wait blocks until the background read of session id ends. Sessions with
// nothing in flight return immediately.
func (o *Orchestrator) Wait(id string) error {
	o.mu.Lock()
	run, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	<-run.done
	return run.err
}

// Abort cancels session id. A session whose request is still in flight, or
// whose stream is being read, is aborted by cancelling that request.
func (o *Orchestrator) Abort(id string) error {
	o.mu.Lock()
	run, ok := o.runs[id]
	o.mu.Unlock()

	if !ok {
		return o.registry.Abort(id)
	}
	run.cancel()
	<-run.done
	return nil
}

// Close aborts every run in flight.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		_ = o.Abort(id)
	}
}

func (o *Orchestrator) Jobs(ctx context.Context) ([]byte, error) {
	return o.backend.ListJobs(ctx)
}

func (o *Orchestrator) StopJob(ctx context.Context, team string) ([]byte, error) {
	return o.backend.StopJob(ctx, team)
}

// History returns up to limit recorded sessions, newest first.
func (o *Orchestrator) History(limit int) ([]*models.Session, error) {
	if o.history == nil {
		return nil, ErrNoHistory
	}
	return o.history.ListSessions(limit)
}

// OpenHistory loads a recorded session into the registry and focuses it.
func (o *Orchestrator) OpenHistory(id string) (*models.Session, error) {
	if o.history == nil {
		return nil, ErrNoHistory
	}
	session, err := o.history.GetSession(id)
	if err != nil {
		return nil, err
	}
	o.registry.Adopt(session)
	return session, nil
}

func (o *Orchestrator) DeleteHistory(id string) error {
	if o.history == nil {
		return ErrNoHistory
	}
	return o.history.DeleteSession(id)
}

// ClearHistory drops recorded sessions and the in-memory registry.
func (o *Orchestrator) ClearHistory() error {
	o.registry.Clear()
	if o.history == nil {
		return nil
	}
	return o.history.Clear()
}
