package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// sessionCols is the column list for session queries. Keep in sync
// with scanSessionRow.
const sessionCols = `id, project, machine, agent,
	first_message, started_at, ended_at,
	message_count, file_size, file_hash, created_at`

const (
	// DefaultSessionLimit is the default number of sessions returned.
	DefaultSessionLimit = 100
	// MaxSessionLimit is the maximum number of sessions returned.
	MaxSessionLimit = 2000
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSessionRow scans sessionCols into a Session.
func scanSessionRow(rs rowScanner) (Session, error) {
	var s Session
	err := rs.Scan(
		&s.ID, &s.Project, &s.Machine, &s.Agent,
		&s.FirstMessage, &s.StartedAt, &s.EndedAt,
		&s.MessageCount, &s.FileSize, &s.FileHash, &s.CreatedAt,
	)
	return s, err
}

// Session represents a row in the sessions table.
type Session struct {
	ID           string  `json:"id"`
	Project      string  `json:"project"`
	Machine      string  `json:"machine"`
	Agent        string  `json:"agent"`
	FirstMessage *string `json:"first_message"`
	StartedAt    *string `json:"started_at"`
	EndedAt      *string `json:"ended_at"`
	MessageCount int     `json:"message_count"`
	FileSize     *int64  `json:"file_size"`
	FileHash     *string `json:"file_hash"`
	CreatedAt    string  `json:"created_at"`
}

// SessionFilter specifies how to query sessions.
type SessionFilter struct {
	Project string
	Machine string
	Agent   string
	Limit   int
	Offset  int
}

// buildSessionFilter returns a WHERE clause and args for the
// predicates in SessionFilter. Sessions that never produced a
// message are excluded everywhere.
func buildSessionFilter(f SessionFilter) (string, []any) {
	preds := []string{"COALESCE(message_count, 0) > 0"}
	var args []any

	if f.Project != "" {
		preds = append(preds, "project = ?")
		args = append(args, f.Project)
	}
	if f.Machine != "" {
		preds = append(preds, "machine = ?")
		args = append(args, f.Machine)
	}
	if f.Agent != "" {
		preds = append(preds, "agent = ?")
		args = append(args, f.Agent)
	}

	return strings.Join(preds, " AND "), args
}

// ListSessions returns sessions ordered by most recent activity,
// newest first. Activity is the end timestamp, falling back to the
// start timestamp and then the row creation time.
func (db *DB) ListSessions(
	ctx context.Context, f SessionFilter,
) ([]Session, error) {
	if f.Limit <= 0 || f.Limit > MaxSessionLimit {
		f.Limit = DefaultSessionLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := buildSessionFilter(f)

	query := "SELECT " + sessionCols +
		" FROM sessions WHERE " + where + `
		ORDER BY COALESCE(
			ended_at, started_at, created_at
		) DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	return scanSessionRows(rows)
}

// GetSession returns a single session by ID, or nil if it does not
// exist.
func (db *DB) GetSession(
	ctx context.Context, id string,
) (*Session, error) {
	row := db.reader.QueryRowContext(
		ctx,
		"SELECT "+sessionCols+" FROM sessions WHERE id = ?",
		id,
	)

	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &s, nil
}

// upsertSessionTx inserts or updates a session inside tx. Every
// column except created_at is replaced on conflict, so created_at
// keeps recording when the session was first indexed.
func upsertSessionTx(tx *sql.Tx, s Session) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (
			id, project, machine, agent, first_message,
			started_at, ended_at, message_count,
			file_size, file_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project = excluded.project,
			machine = excluded.machine,
			agent = excluded.agent,
			first_message = excluded.first_message,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			message_count = excluded.message_count,
			file_size = excluded.file_size,
			file_hash = excluded.file_hash`,
		s.ID, s.Project, s.Machine, s.Agent, s.FirstMessage,
		s.StartedAt, s.EndedAt, s.MessageCount,
		s.FileSize, s.FileHash)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", s.ID, err)
	}
	return nil
}

// UpsertSession inserts or updates a session.
func (db *DB) UpsertSession(s Session) error {
	return db.Update(func(tx *sql.Tx) error {
		return upsertSessionTx(tx, s)
	})
}

// Fingerprint identifies the source file contents a session was last
// synced from.
type Fingerprint struct {
	Size int64
	Hash string
}

// GetFileFingerprint returns the stored source fingerprint for a
// session. It returns nil when the session is unknown or was stored
// without file metadata, in which case the caller should treat the
// source as changed.
func (db *DB) GetFileFingerprint(id string) (*Fingerprint, error) {
	var size sql.NullInt64
	var hash sql.NullString
	err := db.reader.QueryRow(
		"SELECT file_size, file_hash FROM sessions WHERE id = ?",
		id,
	).Scan(&size, &hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting fingerprint %s: %w", id, err)
	}
	if !size.Valid {
		return nil, nil
	}
	return &Fingerprint{Size: size.Int64, Hash: hash.String}, nil
}

// ProjectInfo holds a project name and its session count.
type ProjectInfo struct {
	Name         string `json:"name"`
	SessionCount int    `json:"session_count"`
}

// GetProjects returns project names with session counts.
func (db *DB) GetProjects(
	ctx context.Context,
) ([]ProjectInfo, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT project, COUNT(*) as session_count
		FROM sessions
		WHERE COALESCE(message_count, 0) > 0
		GROUP BY project
		ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectInfo
	for rows.Next() {
		var p ProjectInfo
		if err := rows.Scan(&p.Name, &p.SessionCount); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetMachines returns distinct machine names.
func (db *DB) GetMachines(
	ctx context.Context,
) ([]string, error) {
	rows, err := db.reader.QueryContext(ctx,
		"SELECT DISTINCT machine FROM sessions ORDER BY machine",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var machines []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// scanSessionRows iterates rows and scans each using
// scanSessionRow.
func scanSessionRows(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
