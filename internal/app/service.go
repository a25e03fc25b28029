package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/order"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// TaskInput carries the writable task fields for create and update.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
}

func (in TaskInput) validateDates() error {
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "end date must not be before start date", nil)
	}
	return nil
}

type dataStore interface {
	Ping(ctx context.Context) error
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertBoard(context.Context, store.Board) error
	GetBoard(context.Context, string) (store.Board, error)
	GetBoardSnapshot(context.Context, string) (store.Board, error)
	ListBoards(context.Context, string, string, int, int) ([]store.Board, int, error)
	UpdateBoard(context.Context, string, string, string) error
	DeleteBoard(context.Context, string) error
	TouchBoard(context.Context, string) error
	ListMembers(context.Context, string) ([]store.BoardMember, error)
	GetMember(context.Context, string) (store.BoardMember, error)
	FindMember(context.Context, string, string) (store.BoardMember, error)
	InsertMember(context.Context, store.BoardMember) error
	DeleteMember(context.Context, string) error
	UpdateMemberRole(context.Context, string, string) error
	MaxListPosition(context.Context, string) (int, bool, error)
	InsertList(context.Context, store.TaskList) error
	GetList(context.Context, string) (store.TaskList, error)
	GetListWithTasks(context.Context, string) (store.TaskList, error)
	UpdateListTitle(context.Context, string, string) error
	DeleteList(context.Context, string) error
	ReorderLists(context.Context, string, []order.Placement) error
	MaxTaskPosition(context.Context, string) (int, bool, error)
	InsertTask(context.Context, store.Task) error
	GetTask(context.Context, string) (store.Task, error)
	UpdateTask(context.Context, store.Task) error
	MoveTask(context.Context, string, string, int) error
	DeleteTask(context.Context, string) error
	ReorderTasks(context.Context, string, []order.Placement) error
	FindAssignee(context.Context, string, string) (store.TaskAssignee, error)
	InsertAssignee(context.Context, store.TaskAssignee) error
	DeleteAssignee(context.Context, string, string) error
	FindLabelByName(context.Context, string, string) (store.Label, error)
	GetLabel(context.Context, string) (store.Label, error)
	InsertLabel(context.Context, store.Label) error
	DeleteLabel(context.Context, string) error
	InsertActivity(context.Context, store.Activity) error
	ListActivities(context.Context, string, int, int) ([]store.Activity, int, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	sessions    sessionStore
	accounts    *authpw.Service
	broadcaster realtime.Broadcaster
	search      *search.Service
	mail        *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, accounts *authpw.Service, broadcaster realtime.Broadcaster, searchSvc *search.Service, mail *email.Service) *Service {
	return &Service{
		cfg:         cfg,
		store:       dataStore,
		sessions:    sessions,
		accounts:    accounts,
		broadcaster: broadcaster,
		search:      searchSvc,
		mail:        mail,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- sessions ----

func (s *Service) SignUp(ctx context.Context, name, emailAddr, password string) (Session, error) {
	user, err := s.accounts.Register(ctx, authpw.RegisterRequest{Name: name, Email: emailAddr, Password: password})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		case errors.Is(err, authpw.ErrInvalidInput), errors.Is(err, authpw.ErrWeakPassword):
			return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		default:
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	// Rotate: the old refresh token dies with its use.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Authenticate resolves the user behind a websocket handshake token. A
// token for a since-deleted account is rejected the same as a bad one.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	sess, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetUserByID(ctx, sess.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", auth.ErrInvalidToken
		}
		return "", err
	}
	return sess.UserID, nil
}

// ---- authorization ----

func boardRole(board store.Board, userID string) (rbac.Role, bool) {
	memberRoles := make(map[string]rbac.Role, len(board.Members))
	for _, m := range board.Members {
		memberRoles[m.UserID] = rbac.Role(m.Role)
	}
	return rbac.RoleOf(board.OwnerID, userID, memberRoles)
}

// requireBoard loads the board and checks the session user may perform the
// action on it. Every mutation path goes through here before touching rows.
func (s *Service) requireBoard(ctx context.Context, boardID, userID string, action rbac.Action) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Board{}, domainError(http.StatusNotFound, "NOT_FOUND", "Board not found", nil)
	}
	if err != nil {
		return store.Board{}, err
	}
	role, ok := boardRole(board, userID)
	if !ok {
		return store.Board{}, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this board", nil)
	}
	if !rbac.Can(role, action) {
		return store.Board{}, domainError(http.StatusForbidden, "FORBIDDEN", "Your role does not allow this action", nil)
	}
	return board, nil
}

func (s *Service) requireList(ctx context.Context, boardID, listID string) (store.TaskList, error) {
	list, err := s.store.GetList(ctx, listID)
	if errors.Is(err, store.ErrNotFound) {
		return store.TaskList{}, domainError(http.StatusNotFound, "NOT_FOUND", "List not found", nil)
	}
	if err != nil {
		return store.TaskList{}, err
	}
	if list.BoardID != boardID {
		return store.TaskList{}, domainError(http.StatusNotFound, "NOT_FOUND", "List not found", nil)
	}
	return list, nil
}

func (s *Service) requireTask(ctx context.Context, boardID, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.requireList(ctx, boardID, task.ListID); err != nil {
		return store.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	return task, nil
}

// ---- side channels ----

func (s *Service) emit(ctx context.Context, room, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, room, event, payload); err != nil {
		log.Printf("app: broadcast %s: %v", event, err)
	}
}

// recordActivity persists a log entry and announces it ahead of the domain
// event it describes. Best effort: a failed activity write never fails the
// mutation.
func (s *Service) recordActivity(ctx context.Context, sess Session, boardID, activityType string, metadata map[string]any) {
	activity := store.Activity{
		ID:        util.NewID("act"),
		BoardID:   boardID,
		UserID:    sess.UserID,
		Type:      activityType,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		User:      store.UserRef{ID: sess.UserID, Name: sess.UserName, Email: sess.Email},
	}
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		log.Printf("app: record activity %s: %v", activityType, err)
		return
	}
	s.emit(ctx, realtime.BoardRoom(boardID), EventActivityCreated, activity)
}

func (s *Service) touchBoard(ctx context.Context, boardID string) {
	if err := s.store.TouchBoard(ctx, boardID); err != nil {
		log.Printf("app: touch board %s: %v", boardID, err)
	}
}

// ---- boards ----

func (s *Service) ListBoards(ctx context.Context, sess Session, query string, offset, limit int) (map[string]any, error) {
	boards, total, err := s.store.ListBoards(ctx, sess.UserID, query, offset, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"boards": boards, "total": total}, nil
}

func (s *Service) CreateBoard(ctx context.Context, sess Session, title, description string) (store.Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Board{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	board := store.Board{
		ID:          util.NewID("board"),
		Title:       title,
		Description: strings.TrimSpace(description),
		OwnerID:     sess.UserID,
	}
	if err := s.store.InsertBoard(ctx, board); err != nil {
		return store.Board{}, err
	}
	created, err := s.store.GetBoard(ctx, board.ID)
	if err != nil {
		return store.Board{}, err
	}

	s.recordActivity(ctx, sess, created.ID, "BOARD_CREATED", map[string]any{"title": created.Title})
	s.emit(ctx, realtime.UserRoom(sess.UserID), EventBoardCreated, created)
	if s.search != nil {
		s.search.IndexBoard(search.BoardRecord{ID: created.ID, Title: created.Title, OwnerID: created.OwnerID})
	}
	return created, nil
}

func (s *Service) GetBoard(ctx context.Context, sess Session, boardID string) (store.Board, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionView); err != nil {
		return store.Board{}, err
	}
	return s.store.GetBoardSnapshot(ctx, boardID)
}

func (s *Service) UpdateBoard(ctx context.Context, sess Session, boardID, title, description string) (store.Board, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionAdmin); err != nil {
		return store.Board{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Board{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateBoard(ctx, boardID, title, strings.TrimSpace(description)); err != nil {
		return store.Board{}, err
	}
	updated, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}

	s.recordActivity(ctx, sess, boardID, "BOARD_UPDATED", map[string]any{"title": updated.Title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventBoardUpdated, updated)
	if s.search != nil {
		s.search.IndexBoard(search.BoardRecord{ID: updated.ID, Title: updated.Title, OwnerID: updated.OwnerID})
	}
	return updated, nil
}

// DeleteBoard is owner-only: admin members can manage the roster but not
// destroy the board itself.
func (s *Service) DeleteBoard(ctx context.Context, sess Session, boardID string) error {
	board, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionAdmin)
	if err != nil {
		return err
	}
	if board.OwnerID != sess.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a board", nil)
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	s.emit(ctx, realtime.BoardRoom(boardID), EventBoardDeleted, BoardDeletedPayload{BoardID: boardID})
	if s.search != nil {
		s.search.DeleteBoard(boardID)
	}
	return nil
}

// ---- lists ----

func (s *Service) CreateList(ctx context.Context, sess Session, boardID, title string) (store.TaskList, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return store.TaskList{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.TaskList{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	maxPos, found, err := s.store.MaxListPosition(ctx, boardID)
	if err != nil {
		return store.TaskList{}, err
	}
	list := store.TaskList{
		ID:       util.NewID("list"),
		Title:    title,
		BoardID:  boardID,
		Position: order.Next(maxPos, found),
	}
	if err := s.store.InsertList(ctx, list); err != nil {
		return store.TaskList{}, err
	}
	created, err := s.store.GetList(ctx, list.ID)
	if err != nil {
		return store.TaskList{}, err
	}
	created.Tasks = []store.Task{}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "LIST_CREATED", map[string]any{"listId": created.ID, "title": created.Title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventListCreated, created)
	return created, nil
}

func (s *Service) UpdateList(ctx context.Context, sess Session, boardID, listID, title string) (store.TaskList, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return store.TaskList{}, err
	}
	if _, err := s.requireList(ctx, boardID, listID); err != nil {
		return store.TaskList{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.TaskList{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateListTitle(ctx, listID, title); err != nil {
		return store.TaskList{}, err
	}
	updated, err := s.store.GetListWithTasks(ctx, listID)
	if err != nil {
		return store.TaskList{}, err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "LIST_UPDATED", map[string]any{"listId": listID, "title": title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventListUpdated, updated)
	return updated, nil
}

func (s *Service) DeleteList(ctx context.Context, sess Session, boardID, listID string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return err
	}
	list, err := s.requireList(ctx, boardID, listID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteList(ctx, listID); err != nil {
		return err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "LIST_DELETED", map[string]any{"listId": listID, "title": list.Title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventListDeleted, ListDeletedPayload{ListID: listID})
	return nil
}

// ReorderLists persists the client's full ordering: each list's position
// becomes its index in listIDs.
func (s *Service) ReorderLists(ctx context.Context, sess Session, boardID string, listIDs []string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return err
	}
	if len(listIDs) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "listIds is required", nil)
	}
	if err := s.store.ReorderLists(ctx, boardID, order.Renumber(listIDs)); err != nil {
		return err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "LISTS_REORDERED", map[string]any{"count": len(listIDs)})
	s.emit(ctx, realtime.BoardRoom(boardID), EventListsReordered, ListsReorderedPayload{ListIDs: listIDs})
	return nil
}

// ---- tasks ----

func (s *Service) CreateTask(ctx context.Context, sess Session, boardID, listID string, input TaskInput) (store.Task, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return store.Task{}, err
	}
	if _, err := s.requireList(ctx, boardID, listID); err != nil {
		return store.Task{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := input.validateDates(); err != nil {
		return store.Task{}, err
	}

	maxPos, found, err := s.store.MaxTaskPosition(ctx, listID)
	if err != nil {
		return store.Task{}, err
	}
	task := store.Task{
		ID:          util.NewID("task"),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		ListID:      listID,
		Position:    order.Next(maxPos, found),
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return store.Task{}, err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "TASK_CREATED", map[string]any{"taskId": created.ID, "title": created.Title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventTaskCreated, TaskCreatedPayload{Task: created, ListID: listID})
	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{ID: created.ID, Title: created.Title, Description: created.Description, ListID: listID, BoardID: boardID})
	}
	return created, nil
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, boardID, taskID string, input TaskInput) (store.Task, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return store.Task{}, err
	}
	task, err := s.requireTask(ctx, boardID, taskID)
	if err != nil {
		return store.Task{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := input.validateDates(); err != nil {
		return store.Task{}, err
	}

	task.Title = title
	task.Description = strings.TrimSpace(input.Description)
	task.StartDate = input.StartDate
	task.EndDate = input.EndDate
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	updated, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "TASK_UPDATED", map[string]any{"taskId": taskID, "title": updated.Title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventTaskUpdated, updated)
	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{ID: updated.ID, Title: updated.Title, Description: updated.Description, ListID: updated.ListID, BoardID: boardID})
	}
	return updated, nil
}

// MoveTask places the task at the requested position in the destination
// list. Sibling positions are left alone; ties resolve by creation time,
// and a follow-up reorder from the client settles the final layout.
func (s *Service) MoveTask(ctx context.Context, sess Session, boardID, taskID, destinationListID string, position int) (store.Task, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return store.Task{}, err
	}
	task, err := s.requireTask(ctx, boardID, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.requireList(ctx, boardID, destinationListID); err != nil {
		return store.Task{}, err
	}
	if position < 0 {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "position must not be negative", nil)
	}

	sourceListID := task.ListID
	if err := s.store.MoveTask(ctx, taskID, destinationListID, position); err != nil {
		return store.Task{}, err
	}
	moved, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "TASK_MOVED", map[string]any{
		"taskId":            taskID,
		"sourceListId":      sourceListID,
		"destinationListId": destinationListID,
	})
	s.emit(ctx, realtime.BoardRoom(boardID), EventTaskMoved, TaskMovedPayload{
		Task:              moved,
		SourceListID:      sourceListID,
		DestinationListID: destinationListID,
	})
	return moved, nil
}

func (s *Service) ReorderTasks(ctx context.Context, sess Session, boardID, listID string, taskIDs []string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return err
	}
	if _, err := s.requireList(ctx, boardID, listID); err != nil {
		return err
	}
	if len(taskIDs) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "taskIds is required", nil)
	}
	if err := s.store.ReorderTasks(ctx, listID, order.Renumber(taskIDs)); err != nil {
		return err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "TASKS_REORDERED", map[string]any{"listId": listID, "count": len(taskIDs)})
	s.emit(ctx, realtime.BoardRoom(boardID), EventTasksReordered, TasksReorderedPayload{ListID: listID, TaskIDs: taskIDs})
	return nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, boardID, taskID string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return err
	}
	task, err := s.requireTask(ctx, boardID, taskID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "TASK_DELETED", map[string]any{"taskId": taskID, "title": task.Title})
	s.emit(ctx, realtime.BoardRoom(boardID), EventTaskDeleted, TaskDeletedPayload{TaskID: taskID, ListID: task.ListID})
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

// ---- members ----

func (s *Service) AddMember(ctx context.Context, sess Session, boardID, emailAddr, role string) (store.BoardMember, error) {
	board, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionAdmin)
	if err != nil {
		return store.BoardMember{}, err
	}
	if !rbac.Valid(role) {
		return store.BoardMember{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be ADMIN or WORKER", nil)
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(emailAddr)))
	if errors.Is(err, store.ErrNotFound) {
		return store.BoardMember{}, domainError(http.StatusNotFound, "NOT_FOUND", "No user with that email", nil)
	}
	if err != nil {
		return store.BoardMember{}, err
	}
	if user.ID == board.OwnerID {
		return store.BoardMember{}, domainError(http.StatusConflict, "ALREADY_MEMBER", "The owner already has access", nil)
	}
	if _, err := s.store.FindMember(ctx, boardID, user.ID); err == nil {
		return store.BoardMember{}, domainError(http.StatusConflict, "ALREADY_MEMBER", "User is already a member of this board", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.BoardMember{}, err
	}

	member := store.BoardMember{
		ID:      util.NewID("mem"),
		BoardID: boardID,
		UserID:  user.ID,
		Role:    role,
	}
	if err := s.store.InsertMember(ctx, member); err != nil {
		return store.BoardMember{}, err
	}
	created, err := s.store.GetMember(ctx, member.ID)
	if err != nil {
		return store.BoardMember{}, err
	}

	s.recordActivity(ctx, sess, boardID, "MEMBER_ADDED", map[string]any{"memberId": created.ID, "email": user.Email, "role": role})
	s.emit(ctx, realtime.BoardRoom(boardID), EventMemberAdded, MemberAddedPayload{Member: created})
	// The new member is not in the board room yet; their user room carries
	// the board so their board list updates immediately.
	s.emit(ctx, realtime.UserRoom(user.ID), EventMemberAdded, board)

	if s.mail != nil && s.mail.IsConfigured() {
		go func() {
			if err := s.mail.SendBoardInviteEmail(user.Email, user.Name, sess.UserName, board.Title, role); err != nil {
				log.Printf("app: invite email to %s: %v", user.Email, err)
			}
		}()
	}
	return created, nil
}

func (s *Service) RemoveMember(ctx context.Context, sess Session, boardID, memberID string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionAdmin); err != nil {
		return err
	}
	member, err := s.store.GetMember(ctx, memberID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && member.BoardID != boardID) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Member not found", nil)
	}
	if err != nil {
		return err
	}
	if err := s.store.DeleteMember(ctx, memberID); err != nil {
		return err
	}

	s.recordActivity(ctx, sess, boardID, "MEMBER_REMOVED", map[string]any{"memberId": memberID, "email": member.User.Email})
	s.emit(ctx, realtime.BoardRoom(boardID), EventMemberRemoved, MemberRemovedPayload{MemberID: memberID, BoardID: boardID})
	s.emit(ctx, realtime.UserRoom(member.UserID), EventMemberRemoved, MemberRemovedPayload{MemberID: memberID, BoardID: boardID})
	return nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, sess Session, boardID, memberID, role string) (store.BoardMember, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionAdmin); err != nil {
		return store.BoardMember{}, err
	}
	if !rbac.Valid(role) {
		return store.BoardMember{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be ADMIN or WORKER", nil)
	}
	member, err := s.store.GetMember(ctx, memberID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && member.BoardID != boardID) {
		return store.BoardMember{}, domainError(http.StatusNotFound, "NOT_FOUND", "Member not found", nil)
	}
	if err != nil {
		return store.BoardMember{}, err
	}
	if err := s.store.UpdateMemberRole(ctx, memberID, role); err != nil {
		return store.BoardMember{}, err
	}
	member.Role = role

	s.recordActivity(ctx, sess, boardID, "MEMBER_ROLE_UPDATED", map[string]any{"memberId": memberID, "role": role})
	s.emit(ctx, realtime.BoardRoom(boardID), EventMemberRoleUpdated, MemberAddedPayload{Member: member})
	return member, nil
}

// ---- assignees ----

func (s *Service) AssignUser(ctx context.Context, sess Session, boardID, taskID, userID string) (store.TaskAssignee, error) {
	board, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit)
	if err != nil {
		return store.TaskAssignee{}, err
	}
	if _, err := s.requireTask(ctx, boardID, taskID); err != nil {
		return store.TaskAssignee{}, err
	}
	if _, ok := boardRole(board, userID); !ok {
		return store.TaskAssignee{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignee must have access to the board", nil)
	}
	if _, err := s.store.FindAssignee(ctx, taskID, userID); err == nil {
		return store.TaskAssignee{}, domainError(http.StatusConflict, "ALREADY_ASSIGNED", "User is already assigned to this task", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.TaskAssignee{}, err
	}

	if err := s.store.InsertAssignee(ctx, store.TaskAssignee{
		ID:     util.NewID("asg"),
		TaskID: taskID,
		UserID: userID,
	}); err != nil {
		return store.TaskAssignee{}, err
	}
	assignee, err := s.store.FindAssignee(ctx, taskID, userID)
	if err != nil {
		return store.TaskAssignee{}, err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "USER_ASSIGNED", map[string]any{"taskId": taskID, "userId": userID})
	s.emit(ctx, realtime.BoardRoom(boardID), EventUserAssigned, UserAssignedPayload{TaskID: taskID, Assignee: assignee})
	return assignee, nil
}

func (s *Service) UnassignUser(ctx context.Context, sess Session, boardID, taskID, userID string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return err
	}
	if _, err := s.requireTask(ctx, boardID, taskID); err != nil {
		return err
	}
	if _, err := s.store.FindAssignee(ctx, taskID, userID); errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "User is not assigned to this task", nil)
	} else if err != nil {
		return err
	}
	if err := s.store.DeleteAssignee(ctx, taskID, userID); err != nil {
		return err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "USER_UNASSIGNED", map[string]any{"taskId": taskID, "userId": userID})
	s.emit(ctx, realtime.BoardRoom(boardID), EventUserUnassigned, UserUnassignedPayload{TaskID: taskID, UserID: userID})
	return nil
}

// ---- labels ----

func (s *Service) AddLabel(ctx context.Context, sess Session, boardID, taskID, name, color string) (store.Label, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return store.Label{}, err
	}
	if _, err := s.requireTask(ctx, boardID, taskID); err != nil {
		return store.Label{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Label{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, err := s.store.FindLabelByName(ctx, taskID, name); err == nil {
		return store.Label{}, domainError(http.StatusConflict, "LABEL_EXISTS", "Task already has a label with that name", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Label{}, err
	}

	label := store.Label{
		ID:     util.NewID("lbl"),
		Name:   name,
		Color:  strings.TrimSpace(color),
		TaskID: taskID,
	}
	if err := s.store.InsertLabel(ctx, label); err != nil {
		return store.Label{}, err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "LABEL_ADDED", map[string]any{"taskId": taskID, "name": name})
	s.emit(ctx, realtime.BoardRoom(boardID), EventLabelAdded, LabelAddedPayload{TaskID: taskID, Label: label})
	return label, nil
}

func (s *Service) RemoveLabel(ctx context.Context, sess Session, boardID, taskID, labelID string) error {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionEdit); err != nil {
		return err
	}
	if _, err := s.requireTask(ctx, boardID, taskID); err != nil {
		return err
	}
	label, err := s.store.GetLabel(ctx, labelID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && label.TaskID != taskID) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Label not found", nil)
	}
	if err != nil {
		return err
	}
	if err := s.store.DeleteLabel(ctx, labelID); err != nil {
		return err
	}
	s.touchBoard(ctx, boardID)

	s.recordActivity(ctx, sess, boardID, "LABEL_REMOVED", map[string]any{"taskId": taskID, "name": label.Name})
	s.emit(ctx, realtime.BoardRoom(boardID), EventLabelRemoved, LabelRemovedPayload{TaskID: taskID, LabelID: labelID})
	return nil
}

// ---- activities ----

func (s *Service) ListActivities(ctx context.Context, sess Session, boardID string, offset, limit int) (map[string]any, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionView); err != nil {
		return nil, err
	}
	activities, total, err := s.store.ListActivities(ctx, boardID, offset, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"activities": activities, "total": total}, nil
}

// ---- search ----

func (s *Service) SearchBoard(ctx context.Context, sess Session, boardID, query, filterType string, limit, offset int) (search.Response, error) {
	if _, err := s.requireBoard(ctx, boardID, sess.UserID, rbac.ActionView); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(search.Query{
		Text:          query,
		FilterType:    search.ResultType(filterType),
		FilterBoardID: boardID,
		Limit:         limit,
		Offset:        offset,
	}), nil
}
