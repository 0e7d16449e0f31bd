package db

import (
	"context"
	"fmt"
)

// Stats holds aggregate counts over the indexed corpus. Session and
// message totals come from the trigger-maintained stats table;
// project and machine counts come from the session indexes.
type Stats struct {
	SessionCount int `json:"session_count"`
	MessageCount int `json:"message_count"`
	ProjectCount int `json:"project_count"`
	MachineCount int `json:"machine_count"`
}

// GetStats returns corpus statistics without scanning the messages
// table.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats

	rows, err := db.reader.QueryContext(
		ctx, `SELECT key, value FROM stats`,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value int
		if err := rows.Scan(&key, &value); err != nil {
			return Stats{}, fmt.Errorf("scanning counter: %w", err)
		}
		switch key {
		case "session_count":
			s.SessionCount = value
		case "message_count":
			s.MessageCount = value
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("fetching counters: %w", err)
	}

	err = db.reader.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT project), COUNT(DISTINCT machine)
		FROM sessions`,
	).Scan(&s.ProjectCount, &s.MachineCount)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching dimension counts: %w", err)
	}
	return s, nil
}
