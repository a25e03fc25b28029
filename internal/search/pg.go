package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Pg implements Searcher using plain ILIKE matching against PostgreSQL as a
// fallback. The tables carry no tsvector columns; board and task text is
// short enough that substring matching ranks acceptably.
type Pg struct {
	db *sql.DB
}

// NewPg creates a PostgreSQL searcher.
func NewPg(db *sql.DB) *Pg {
	return &Pg{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *Pg) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across boards and tasks.
func (p *Pg) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + q.Text + "%"
	args := []any{pattern}
	argN := 2

	var subQueries []string

	if (q.FilterType == "" || q.FilterType == ResultBoard) && q.FilterBoardID == "" {
		subQueries = append(subQueries, `
			SELECT 'board'::text AS type, b.id, b.title,
				''::text AS snippet,
				b.id AS board_id, ''::text AS list_id,
				b.updated_at AS sort_key
			FROM boards b
			WHERE b.title ILIKE $1`)
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		taskWhere := "(t.title ILIKE $1 OR t.description ILIKE $1)"
		if q.FilterBoardID != "" {
			taskWhere += fmt.Sprintf(" AND l.board_id = $%d", argN)
			args = append(args, q.FilterBoardID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				left(coalesce(t.description, ''), 160) AS snippet,
				l.board_id, t.list_id,
				t.created_at AS sort_key
			FROM tasks t
			JOIN task_lists l ON l.id = t.list_id
			WHERE %s`, taskWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, board_id, list_id
		FROM (%s) sub
		ORDER BY sort_key DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.BoardID, &r.ListID); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *Pg) LoadAllRecords(ctx context.Context) ([]BoardRecord, []TaskRecord, error) {
	boardRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, owner_id
		FROM boards
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load boards: %w", err)
	}
	defer boardRows.Close()

	boards := make([]BoardRecord, 0)
	for boardRows.Next() {
		var b BoardRecord
		if err := boardRows.Scan(&b.ID, &b.Title, &b.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := boardRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate boards: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, coalesce(t.description, ''), t.list_id, l.board_id
		FROM tasks t
		JOIN task_lists l ON l.id = t.list_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.ListID, &t.BoardID); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return boards, tasks, nil
}
