package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"taskboard/api/internal/order"
)

// ErrNotFound is returned when a row is absent. Callers translate it into
// their own error taxonomy.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Name, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// ---- boards ----

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, title, description, owner_id)
		VALUES ($1, $2, $3, $4)
	`, board.ID, board.Title, board.Description, board.OwnerID)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

// GetBoard loads a board with its owner and members, without lists.
func (s *PostgresStore) GetBoard(ctx context.Context, id string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.title, b.description, b.owner_id, b.created_at, b.updated_at,
			u.id, u.name, u.email
		FROM boards b
		JOIN users u ON u.id = b.owner_id
		WHERE b.id = $1
	`, id).Scan(&board.ID, &board.Title, &board.Description, &board.OwnerID,
		&board.CreatedAt, &board.UpdatedAt,
		&board.Owner.ID, &board.Owner.Name, &board.Owner.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}

	members, err := s.ListMembers(ctx, id)
	if err != nil {
		return Board{}, err
	}
	board.Members = members
	return board, nil
}

// GetBoardSnapshot loads the full board tree: members, lists with nested
// tasks, assignees and labels, all in sibling order. This is the client's
// reconciliation baseline.
func (s *PostgresStore) GetBoardSnapshot(ctx context.Context, id string) (Board, error) {
	board, err := s.GetBoard(ctx, id)
	if err != nil {
		return Board{}, err
	}

	lists, err := s.listListsByBoard(ctx, id)
	if err != nil {
		return Board{}, err
	}

	listIDs := make([]string, len(lists))
	listIndex := make(map[string]int, len(lists))
	for i, l := range lists {
		listIDs[i] = l.ID
		listIndex[l.ID] = i
	}

	tasks, err := s.listTasksByLists(ctx, listIDs)
	if err != nil {
		return Board{}, err
	}
	for _, t := range tasks {
		i := listIndex[t.ListID]
		lists[i].Tasks = append(lists[i].Tasks, t)
	}

	board.Lists = lists
	return board, nil
}

// ListBoards returns the boards the user owns or belongs to, newest activity
// first, optionally filtered by a title/description search term.
func (s *PostgresStore) ListBoards(ctx context.Context, userID, search string, offset, limit int) ([]Board, int, error) {
	where := `
		(b.owner_id = $1 OR EXISTS (
			SELECT 1 FROM board_members m WHERE m.board_id = b.id AND m.user_id = $1
		))
	`
	args := []any{userID}
	if search != "" {
		where += ` AND (b.title ILIKE $2 OR b.description ILIKE $2)`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards b WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count boards: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT b.id, b.title, b.description, b.owner_id, b.created_at, b.updated_at,
			u.id, u.name, u.email
		FROM boards b
		JOIN users u ON u.id = b.owner_id
		WHERE %s
		ORDER BY b.updated_at DESC
		OFFSET $%d LIMIT $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	// Serialize as [] rather than null when the user has no boards.
	boards := []Board{}
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.Title, &b.Description, &b.OwnerID,
			&b.CreatedAt, &b.UpdatedAt,
			&b.Owner.ID, &b.Owner.Name, &b.Owner.Email); err != nil {
			return nil, 0, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list boards: %w", err)
	}

	for i := range boards {
		members, err := s.ListMembers(ctx, boards[i].ID)
		if err != nil {
			return nil, 0, err
		}
		boards[i].Members = members
	}
	return boards, total, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, id, title, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE boards SET title = $2, description = $3, updated_at = NOW() WHERE id = $1
	`, id, title, description)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return requireRow(result)
}

// DeleteBoard removes the board; lists, tasks, memberships and activities go
// with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteBoard(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) TouchBoard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE boards SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch board: %w", err)
	}
	return nil
}

// ---- members ----

const memberColumns = `
	m.id, m.board_id, m.user_id, m.role, m.created_at,
	u.id, u.name, u.email
`

func scanMember(row interface{ Scan(...any) error }) (BoardMember, error) {
	var m BoardMember
	err := row.Scan(&m.ID, &m.BoardID, &m.UserID, &m.Role, &m.CreatedAt,
		&m.User.ID, &m.User.Name, &m.User.Email)
	return m, err
}

func (s *PostgresStore) ListMembers(ctx context.Context, boardID string) ([]BoardMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM board_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.board_id = $1
		ORDER BY m.created_at ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []BoardMember{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (BoardMember, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM board_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = $1
	`, memberID))
	if errors.Is(err, sql.ErrNoRows) {
		return BoardMember{}, ErrNotFound
	}
	if err != nil {
		return BoardMember{}, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// FindMember looks up the unique (board, user) membership pair.
func (s *PostgresStore) FindMember(ctx context.Context, boardID, userID string) (BoardMember, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM board_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.board_id = $1 AND m.user_id = $2
	`, boardID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return BoardMember{}, ErrNotFound
	}
	if err != nil {
		return BoardMember{}, fmt.Errorf("find member: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) InsertMember(ctx context.Context, member BoardMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (id, board_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.BoardID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMember(ctx context.Context, memberID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM board_members WHERE id = $1`, memberID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, memberID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE board_members SET role = $2 WHERE id = $1`, memberID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return requireRow(result)
}

// ---- lists ----

// MaxListPosition reports the highest position within a board; found is
// false when the board has no lists.
func (s *PostgresStore) MaxListPosition(ctx context.Context, boardID string) (int, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM task_lists WHERE board_id = $1`, boardID).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("max list position: %w", err)
	}
	return int(max.Int64), max.Valid, nil
}

func (s *PostgresStore) InsertList(ctx context.Context, list TaskList) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_lists (id, title, board_id, position)
		VALUES ($1, $2, $3, $4)
	`, list.ID, list.Title, list.BoardID, list.Position)
	if err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (TaskList, error) {
	var list TaskList
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, board_id, position, created_at, updated_at
		FROM task_lists WHERE id = $1
	`, listID).Scan(&list.ID, &list.Title, &list.BoardID, &list.Position, &list.CreatedAt, &list.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskList{}, ErrNotFound
	}
	if err != nil {
		return TaskList{}, fmt.Errorf("get list: %w", err)
	}
	list.Tasks = []Task{}
	return list, nil
}

// GetListWithTasks loads a list with its tasks in sibling order.
func (s *PostgresStore) GetListWithTasks(ctx context.Context, listID string) (TaskList, error) {
	list, err := s.GetList(ctx, listID)
	if err != nil {
		return TaskList{}, err
	}
	tasks, err := s.listTasksByLists(ctx, []string{listID})
	if err != nil {
		return TaskList{}, err
	}
	list.Tasks = tasks
	return list, nil
}

func (s *PostgresStore) listListsByBoard(ctx context.Context, boardID string) ([]TaskList, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, board_id, position, created_at, updated_at
		FROM task_lists
		WHERE board_id = $1
		ORDER BY position ASC, created_at ASC, id ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	lists := []TaskList{}
	for rows.Next() {
		var l TaskList
		if err := rows.Scan(&l.ID, &l.Title, &l.BoardID, &l.Position, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		l.Tasks = []Task{}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	return lists, nil
}

func (s *PostgresStore) UpdateListTitle(ctx context.Context, listID, title string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE task_lists SET title = $2, updated_at = NOW() WHERE id = $1
	`, listID, title)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteList(ctx context.Context, listID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_lists WHERE id = $1`, listID)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return requireRow(result)
}

// ReorderLists applies all placements in one transaction so a reorder is
// never observably partial. Running the same placements twice is a no-op.
func (s *PostgresStore) ReorderLists(ctx context.Context, boardID string, placements []order.Placement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder lists: %w", err)
	}
	for _, p := range placements {
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_lists SET position = $3, updated_at = NOW()
			WHERE id = $1 AND board_id = $2
		`, p.ID, boardID, p.Position); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder list %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder lists: %w", err)
	}
	return nil
}

// ---- tasks ----

func (s *PostgresStore) MaxTaskPosition(ctx context.Context, listID string) (int, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM tasks WHERE list_id = $1`, listID).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("max task position: %w", err)
	}
	return int(max.Int64), max.Valid, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, list_id, position, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.Title, task.Description, task.ListID, task.Position, task.StartDate, task.EndDate)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads a task with its assignees and labels.
func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, list_id, position, start_date, end_date, created_at, updated_at
		FROM tasks WHERE id = $1
	`, taskID).Scan(&t.ID, &t.Title, &t.Description, &t.ListID, &t.Position,
		&t.StartDate, &t.EndDate, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}

	if err := s.loadTaskRelations(ctx, []*Task{&t}); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) listTasksByLists(ctx context.Context, listIDs []string) ([]Task, error) {
	if len(listIDs) == 0 {
		return []Task{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, list_id, position, start_date, end_date, created_at, updated_at
		FROM tasks
		WHERE list_id = ANY($1)
		ORDER BY position ASC, created_at ASC, id ASC
	`, listIDs)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.ListID, &t.Position,
			&t.StartDate, &t.EndDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	refs := make([]*Task, len(tasks))
	for i := range tasks {
		refs[i] = &tasks[i]
	}
	if err := s.loadTaskRelations(ctx, refs); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) loadTaskRelations(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	taskIDs := make([]string, len(tasks))
	byID := make(map[string]*Task, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
		byID[t.ID] = t
		t.Assignees = []TaskAssignee{}
		t.Labels = []Label{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.task_id, a.user_id, a.created_at, u.id, u.name, u.email
		FROM task_assignees a
		JOIN users u ON u.id = a.user_id
		WHERE a.task_id = ANY($1)
		ORDER BY a.created_at ASC
	`, taskIDs)
	if err != nil {
		return fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a TaskAssignee
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &a.CreatedAt,
			&a.User.ID, &a.User.Name, &a.User.Email); err != nil {
			return fmt.Errorf("scan assignee: %w", err)
		}
		byID[a.TaskID].Assignees = append(byID[a.TaskID].Assignees, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list assignees: %w", err)
	}

	labelRows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, task_id
		FROM labels
		WHERE task_id = ANY($1)
		ORDER BY name ASC
	`, taskIDs)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var l Label
		if err := labelRows.Scan(&l.ID, &l.Name, &l.Color, &l.TaskID); err != nil {
			return fmt.Errorf("scan label: %w", err)
		}
		byID[l.TaskID].Labels = append(byID[l.TaskID].Labels, l)
	}
	return labelRows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, start_date = $4, end_date = $5, updated_at = NOW()
		WHERE id = $1
	`, task.ID, task.Title, task.Description, task.StartDate, task.EndDate)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result)
}

// MoveTask reassigns the task's list and position in a single statement so
// the task is never observable in zero or two lists.
func (s *PostgresStore) MoveTask(ctx context.Context, taskID, destinationListID string, position int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET list_id = $2, position = $3, updated_at = NOW() WHERE id = $1
	`, taskID, destinationListID, position)
	if err != nil {
		return fmt.Errorf("move task: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ReorderTasks(ctx context.Context, listID string, placements []order.Placement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tasks: %w", err)
	}
	for _, p := range placements {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position = $3, updated_at = NOW()
			WHERE id = $1 AND list_id = $2
		`, p.ID, listID, p.Position); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder task %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder tasks: %w", err)
	}
	return nil
}

// ---- assignees ----

func (s *PostgresStore) FindAssignee(ctx context.Context, taskID, userID string) (TaskAssignee, error) {
	var a TaskAssignee
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.task_id, a.user_id, a.created_at, u.id, u.name, u.email
		FROM task_assignees a
		JOIN users u ON u.id = a.user_id
		WHERE a.task_id = $1 AND a.user_id = $2
	`, taskID, userID).Scan(&a.ID, &a.TaskID, &a.UserID, &a.CreatedAt,
		&a.User.ID, &a.User.Name, &a.User.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskAssignee{}, ErrNotFound
	}
	if err != nil {
		return TaskAssignee{}, fmt.Errorf("find assignee: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) InsertAssignee(ctx context.Context, assignee TaskAssignee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_assignees (id, task_id, user_id)
		VALUES ($1, $2, $3)
	`, assignee.ID, assignee.TaskID, assignee.UserID)
	if err != nil {
		return fmt.Errorf("insert assignee: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAssignee(ctx context.Context, taskID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM task_assignees WHERE task_id = $1 AND user_id = $2
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("delete assignee: %w", err)
	}
	return requireRow(result)
}

// ---- labels ----

func (s *PostgresStore) FindLabelByName(ctx context.Context, taskID, name string) (Label, error) {
	var l Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, task_id FROM labels WHERE task_id = $1 AND name = $2
	`, taskID, name).Scan(&l.ID, &l.Name, &l.Color, &l.TaskID)
	if errors.Is(err, sql.ErrNoRows) {
		return Label{}, ErrNotFound
	}
	if err != nil {
		return Label{}, fmt.Errorf("find label: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLabel(ctx context.Context, labelID string) (Label, error) {
	var l Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, task_id FROM labels WHERE id = $1
	`, labelID).Scan(&l.ID, &l.Name, &l.Color, &l.TaskID)
	if errors.Is(err, sql.ErrNoRows) {
		return Label{}, ErrNotFound
	}
	if err != nil {
		return Label{}, fmt.Errorf("get label: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) InsertLabel(ctx context.Context, label Label) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, name, color, task_id)
		VALUES ($1, $2, $3, $4)
	`, label.ID, label.Name, label.Color, label.TaskID)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, labelID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE id = $1`, labelID)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	return requireRow(result)
}

// ---- activities ----

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	metadata, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activities (id, board_id, user_id, type, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, activity.ID, activity.BoardID, activity.UserID, activity.Type, metadata)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, boardID string, offset, limit int) ([]Activity, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities WHERE board_id = $1`, boardID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.board_id, a.user_id, a.type, a.metadata, a.created_at,
			u.id, u.name, u.email
		FROM activities a
		JOIN users u ON u.id = a.user_id
		WHERE a.board_id = $1
		ORDER BY a.created_at DESC
		OFFSET $2 LIMIT $3
	`, boardID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	activities := []Activity{}
	for rows.Next() {
		var a Activity
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.BoardID, &a.UserID, &a.Type, &metadata, &a.CreatedAt,
			&a.User.ID, &a.User.Name, &a.User.Email); err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, 0, fmt.Errorf("unmarshal activity metadata: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	return activities, total, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SortTasks orders tasks in place by the shared sibling sort used by both
// the snapshot query and the client merge.
func SortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return order.Less(taskKey(tasks[i]), taskKey(tasks[j]))
	})
}

func SortLists(lists []TaskList) {
	sort.Slice(lists, func(i, j int) bool {
		return order.Less(listKey(lists[i]), listKey(lists[j]))
	})
}

func taskKey(t Task) order.Key {
	return order.Key{Position: t.Position, CreatedAt: t.CreatedAt, ID: t.ID}
}

func listKey(l TaskList) order.Key {
	return order.Key{Position: l.Position, CreatedAt: l.CreatedAt, ID: l.ID}
}
