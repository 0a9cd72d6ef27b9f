package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhattention/agent-studio/internal/execution"
	"github.com/zhattention/agent-studio/internal/models"
)

var ErrNotFound = errors.New("session not found in history")

// Storage keeps the history of execution sessions and their events.
type Storage struct {
	db *sql.DB
}

var _ execution.Recorder = (*Storage)(nil)

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		team_name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS thread_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		seq INTEGER NOT NULL,
		source TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		metadata TEXT,
		timestamp TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_events_session ON thread_events(session_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// RecordSession inserts the session or updates its status.
func (s *Storage) RecordSession(session *models.Session) error {
	var errText sql.NullString
	if session.Error != "" {
		errText = sql.NullString{String: session.Error, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, team_name, started_at, completed_at, status, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET completed_at = excluded.completed_at, status = excluded.status, error = excluded.error`,
		session.ID, session.TeamName, session.StartedAt, session.CompletedAt, session.Status, errText,
	)
	return err
}

// RecordEvent appends one event to the session's log.
func (s *Storage) RecordEvent(sessionID string, event models.ThreadEvent) error {
	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	var content sql.NullString
	if len(event.Content) > 0 {
		content = sql.NullString{String: string(event.Content), Valid: true}
	}

	var promptTokens, completionTokens sql.NullInt64
	if event.ModelsUsage != nil {
		promptTokens = sql.NullInt64{Int64: int64(event.ModelsUsage.PromptTokens), Valid: true}
		completionTokens = sql.NullInt64{Int64: int64(event.ModelsUsage.CompletionTokens), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO thread_events (session_id, seq, source, type, content, prompt_tokens, completion_tokens, metadata, timestamp)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM thread_events WHERE session_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, sessionID, event.Source, event.Type, content, promptTokens, completionTokens, metadata, event.Timestamp,
	)
	return err
}

// ListSessions returns up to limit sessions, newest first, without events.
func (s *Storage) ListSessions(limit int) ([]*models.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, team_name, started_at, completed_at, status, error
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// GetSession loads one session with its full event log.
func (s *Storage) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, team_name, started_at, completed_at, status, error
		 FROM sessions WHERE id = ?`, id,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	events, err := s.GetEvents(id)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if _, seen := session.AgentEvents[event.Source]; !seen {
			session.AgentOrder = append(session.AgentOrder, event.Source)
		}
		session.AgentEvents[event.Source] = append(session.AgentEvents[event.Source], event)
	}
	return session, nil
}

// GetEvents returns the events of a session in arrival order.
func (s *Storage) GetEvents(sessionID string) ([]models.ThreadEvent, error) {
	rows, err := s.db.Query(
		`SELECT source, type, content, prompt_tokens, completion_tokens, metadata, timestamp
		 FROM thread_events WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ThreadEvent
	for rows.Next() {
		var event models.ThreadEvent
		var content, metadata sql.NullString
		var promptTokens, completionTokens sql.NullInt64

		err := rows.Scan(
			&event.Source, &event.Type, &content, &promptTokens, &completionTokens, &metadata, &event.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		if content.Valid {
			event.Content = json.RawMessage(content.String)
		}
		if promptTokens.Valid || completionTokens.Valid {
			event.ModelsUsage = &models.ModelsUsage{
				PromptTokens:     int(promptTokens.Int64),
				CompletionTokens: int(completionTokens.Int64),
			}
		}
		event.Metadata = map[string]any{}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (s *Storage) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM thread_events WHERE session_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return tx.Commit()
}

// Clear deletes the whole history.
func (s *Storage) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM thread_events`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return err
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var session models.Session
	var completedAt sql.NullTime
	var errText sql.NullString

	err := row.Scan(
		&session.ID, &session.TeamName, &session.StartedAt, &completedAt, &session.Status, &errText,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}
	if errText.Valid {
		session.Error = errText.String
	}
	session.AgentEvents = make(map[string][]models.ThreadEvent)

	return &session, nil
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
