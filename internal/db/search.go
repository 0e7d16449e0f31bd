package db

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
	snippetTokenLength = 32
)

// SearchResult holds a message match with session context.
type SearchResult struct {
	SessionID string  `json:"session_id"`
	Project   string  `json:"project"`
	Machine   string  `json:"machine"`
	MsgID     string  `json:"msg_id"`
	Role      string  `json:"role"`
	Timestamp string  `json:"timestamp"`
	Snippet   string  `json:"snippet"`
	Rank      float64 `json:"rank"`
}

// SearchFilter specifies search parameters.
type SearchFilter struct {
	Query   string
	Project string
	Machine string
	Cursor  int // offset for pagination
	Limit   int
}

// pageSize clamps the requested limit to the allowed range.
func (f SearchFilter) pageSize() int {
	if f.Limit <= 0 || f.Limit > MaxSearchLimit {
		return DefaultSearchLimit
	}
	return f.Limit
}

// SearchPage holds paginated search results.
type SearchPage struct {
	Results    []SearchResult `json:"results"`
	NextCursor int            `json:"next_cursor,omitempty"`
}

// Search performs FTS5 full-text search across messages, best match
// first. The query uses FTS5 match syntax; callers are responsible
// for quoting anything that should not be parsed as operators.
func (db *DB) Search(
	ctx context.Context, f SearchFilter,
) (SearchPage, error) {
	limit := f.pageSize()

	where := []string{"messages_fts MATCH ?"}
	args := []any{f.Query}
	if f.Project != "" {
		where = append(where, "s.project = ?")
		args = append(args, f.Project)
	}
	if f.Machine != "" {
		where = append(where, "s.machine = ?")
		args = append(args, f.Machine)
	}

	// One extra row tells us whether another page exists.
	query := fmt.Sprintf(`
		SELECT m.session_id, s.project, s.machine, m.msg_id, m.role,
			m.timestamp,
			snippet(messages_fts, 0, '<mark>', '</mark>',
				'...', %d) as snippet,
			rank
		FROM messages_fts
		JOIN messages m ON messages_fts.rowid = m.id
		JOIN sessions s ON m.session_id = s.id
		WHERE %s
		ORDER BY rank
		LIMIT ? OFFSET ?`,
		snippetTokenLength,
		strings.Join(where, " AND "),
	)
	args = append(args, limit+1, f.Cursor)

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return SearchPage{}, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.SessionID, &r.Project, &r.Machine, &r.MsgID,
			&r.Role, &r.Timestamp, &r.Snippet, &r.Rank,
		); err != nil {
			return SearchPage{},
				fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchPage{}, err
	}

	page := SearchPage{Results: results}
	if len(results) > limit {
		page.Results = results[:limit]
		page.NextCursor = f.Cursor + limit
	}
	return page, nil
}
