package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is one run of the pipeline over a source.
type Session struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Config     json.RawMessage `json:"config"`
	Status     SessionStatus   `json:"status"`
	Frames     int             `json:"frames"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a running session. An empty ID is filled with a new UUID.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if len(sess.Config) == 0 {
		sess.Config = json.RawMessage("{}")
	}
	sess.Status = SessionRunning
	sess.StartedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, config, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Source, string(sess.Config), string(sess.Status), sess.StartedAt,
	)
	return err
}

const sessionColumns = `id, source, config, status, frames, error, started_at, finished_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	sess := &Session{}
	var (
		config, status string
		finished       sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.Source, &config, &status, &sess.Frames, &sess.Error, &sess.StartedAt, &finished); err != nil {
		return nil, err
	}
	sess.Config = json.RawMessage(config)
	sess.Status = SessionStatus(status)
	if finished.Valid {
		t := finished.Time
		sess.FinishedAt = &t
	}
	return sess, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List retrieves all sessions, newest first.
func (r *SessionRepository) List() ([]*Session, error) {
	rows, err := r.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Finish marks a session completed, or failed when runErr is non-nil, and
// records the number of frames processed.
func (r *SessionRepository) Finish(id string, frames int, runErr error) error {
	status, msg := SessionCompleted, ""
	if runErr != nil {
		status, msg = SessionFailed, runErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE sessions SET status = ?, frames = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), frames, msg, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// Delete removes a session and its frame results.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
