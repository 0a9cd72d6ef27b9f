package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhattention/agent-studio/internal/models"
)

const (
	// AbortMessage is the error recorded on a session cancelled by its caller.
	AbortMessage = "aborted by caller"
	// UnknownErrorMessage is used for error frames that carry no message.
	UnknownErrorMessage = "unknown error"

	sessionIDPrefix = "exec_"
	watchBuffer     = 100
)

var (
	ErrUnknownSession  = errors.New("unknown session")
	ErrSessionTerminal = errors.New("session is terminal")
)

// Recorder persists session state as it changes. Calls are made in order,
// under the registry lock.
type Recorder interface {
	RecordSession(s *models.Session) error
	RecordEvent(sessionID string, event models.ThreadEvent) error
}

type ChangeKind string

const (
	ChangeStarted ChangeKind = "started"
	ChangeEvent   ChangeKind = "event"
	ChangeStatus  ChangeKind = "status"
	ChangeCleared ChangeKind = "cleared"
)

// Change notifies watchers that a session was modified.
type Change struct {
	SessionID string
	Kind      ChangeKind
}

// Registry owns every execution session of one studio instance.
type Registry struct {
	mu       sync.Mutex
	sessions []*models.Session // newest first
	byID     map[string]*models.Session
	current  string

	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	watchMu  sync.RWMutex
	watchers map[chan Change]struct{}
}

type Option func(*Registry)

// WithRecorder persists every session change through rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:     make(map[string]*models.Session),
		logger:   slog.Default(),
		now:      time.Now,
		watchers: make(map[chan Change]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates a running session for team and makes it current.
func (r *Registry) Start(team string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &models.Session{
		ID:          sessionIDPrefix + uuid.NewString(),
		TeamName:    team,
		StartedAt:   r.now().UTC(),
		Status:      models.SessionRunning,
		AgentEvents: make(map[string][]models.ThreadEvent),
	}
	r.sessions = append([]*models.Session{s}, r.sessions...)
	r.byID[s.ID] = s
	r.current = s.ID

	r.record(s)
	r.logger.Info("session started", slog.String("session", s.ID), slog.String("team", team))
	r.emit(Change{SessionID: s.ID, Kind: ChangeStarted})
	return s.ID
}

// Ingest classifies one raw frame and applies it to session id. Frames that
// are not valid JSON or match no known shape are dropped and reported only
// through the returned kind. A terminal session rejects every frame with
// ErrSessionTerminal.
func (r *Registry) Ingest(id string, raw []byte) (FrameKind, error) {
	frame := Classify(raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return frame.Kind(), fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.Status.Terminal() {
		r.logger.Warn("frame rejected by terminal session",
			slog.String("session", id),
			slog.String("status", string(s.Status)),
			slog.String("kind", string(frame.Kind())),
		)
		return frame.Kind(), fmt.Errorf("%w: %s is %s", ErrSessionTerminal, id, s.Status)
	}

	switch f := frame.(type) {
	case StatusFrame:
		switch f.Status {
		case StatusCompleted:
			r.finishLocked(s, models.SessionCompleted, "")
		case StatusError:
			msg := f.Message
			if msg == "" {
				msg = UnknownErrorMessage
			}
			r.finishLocked(s, models.SessionError, msg)
		default:
			r.logger.Debug("status update", slog.String("session", id), slog.String("status", f.Status))
		}

	case AgentEventFrame:
		event := f.Event
		if event.Timestamp == "" {
			event.Timestamp = r.now().UTC().Format(models.TimestampLayout)
		}
		if _, seen := s.AgentEvents[event.Source]; !seen {
			s.AgentOrder = append(s.AgentOrder, event.Source)
		}
		s.AgentEvents[event.Source] = append(s.AgentEvents[event.Source], event)

		if r.recorder != nil {
			if err := r.recorder.RecordEvent(id, event); err != nil {
				r.logger.Warn("record event failed", slog.String("session", id), slog.Any("error", err))
			}
		}
		r.emit(Change{SessionID: id, Kind: ChangeEvent})

	case UnknownFrame:
		r.logger.Warn("dropping frame of unknown format", slog.String("session", id), slog.String("frame", f.Raw))

	case ParseErrorFrame:
		r.logger.Warn("dropping unparseable frame",
			slog.String("session", id),
			slog.String("frame", f.Raw),
			slog.Any("error", f.Err),
		)
	}
	return frame.Kind(), nil
}

// IngestFrame is Ingest without the frame kind.
func (r *Registry) IngestFrame(id string, raw []byte) error {
	_, err := r.Ingest(id, raw)
	return err
}

// Abort moves a running session to error with AbortMessage.
func (r *Registry) Abort(id string) error {
	return r.transition(id, models.SessionError, AbortMessage)
}

// Fail records a transport failure on a running session.
func (r *Registry) Fail(id string, cause error) error {
	msg := UnknownErrorMessage
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	return r.transition(id, models.SessionError, msg)
}

// Finish completes a session whose stream ended without a terminal frame. It
// is a no-op for sessions that are already terminal.
func (r *Registry) Finish(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.Status == models.SessionRunning {
		r.finishLocked(s, models.SessionCompleted, "")
	}
	return nil
}

func (r *Registry) transition(id string, status models.SessionStatus, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, id, s.Status)
	}
	r.finishLocked(s, status, msg)
	return nil
}

func (r *Registry) finishLocked(s *models.Session, status models.SessionStatus, msg string) {
	now := r.now().UTC()
	s.Status = status
	s.Error = msg
	s.CompletedAt = &now

	r.record(s)
	if status == models.SessionError {
		r.logger.Warn("session failed", slog.String("session", s.ID), slog.String("error", msg))
	} else {
		r.logger.Info("session completed", slog.String("session", s.ID), slog.Int("events", s.EventCount()))
	}
	r.emit(Change{SessionID: s.ID, Kind: ChangeStatus})
}

func (r *Registry) record(s *models.Session) {
	if r.recorder == nil {
		return
	}
	snapshot := cloneSession(s)
	if err := r.recorder.RecordSession(snapshot); err != nil {
		r.logger.Warn("record session failed", slog.String("session", s.ID), slog.Any("error", err))
	}
}

// Get returns a copy of session id.
func (r *Registry) Get(id string) (*models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

// Current returns a copy of the focused session, if any.
func (r *Registry) Current() (*models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == "" {
		return nil, false
	}
	s, ok := r.byID[r.current]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

// SetCurrent focuses session id.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	r.current = id
	return nil
}

// Adopt adds a session loaded from elsewhere, such as history, and focuses
// it. A session with the same id is replaced.
func (r *Registry) Adopt(s *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	adopted := cloneSession(s)
	if adopted.AgentEvents == nil {
		adopted.AgentEvents = make(map[string][]models.ThreadEvent)
	}
	if _, ok := r.byID[s.ID]; ok {
		for i, existing := range r.sessions {
			if existing.ID == s.ID {
				r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
				break
			}
		}
	}
	r.sessions = append([]*models.Session{adopted}, r.sessions...)
	r.byID[s.ID] = adopted
	r.current = s.ID
	r.emit(Change{SessionID: s.ID, Kind: ChangeStarted})
}

// List returns copies of all sessions, newest first.
func (r *Registry) List() []*models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = cloneSession(s)
	}
	return out
}

// Clear drops every session. Persisted history is not touched.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = nil
	r.byID = make(map[string]*models.Session)
	r.current = ""
	r.emit(Change{Kind: ChangeCleared})
}

// Usage totals the token counts of session id. Unknown sessions count zero.
func (r *Registry) Usage(id string) models.TokenUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return models.TokenUsage{}
	}
	return s.Usage()
}

// Watch returns a channel of changes that is closed when ctx is done. Slow
// readers miss changes rather than block ingestion.
func (r *Registry) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchBuffer)

	r.watchMu.Lock()
	r.watchers[ch] = struct{}{}
	r.watchMu.Unlock()

	context.AfterFunc(ctx, func() {
		r.watchMu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.watchMu.Unlock()
	})
	return ch
}

func (r *Registry) emit(change Change) {
	r.watchMu.RLock()
	defer r.watchMu.RUnlock()

	for ch := range r.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.AgentOrder = append([]string(nil), s.AgentOrder...)
	out.AgentEvents = make(map[string][]models.ThreadEvent, len(s.AgentEvents))
	for agent, events := range s.AgentEvents {
		copied := make([]models.ThreadEvent, len(events))
		for i, event := range events {
			copied[i] = cloneEvent(event)
		}
		out.AgentEvents[agent] = copied
	}
	return &out
}

func cloneEvent(e models.ThreadEvent) models.ThreadEvent {
	out := e
	out.Content = append([]byte(nil), e.Content...)
	if e.ModelsUsage != nil {
		usage := *e.ModelsUsage
		out.ModelsUsage = &usage
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
