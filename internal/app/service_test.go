package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"taskboard/api/internal/authpw"
	"taskboard/api/internal/config"
	"taskboard/api/internal/order"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
)

type fakeStore struct {
	getUserByEmailFn  func(context.Context, string) (store.User, error)
	createUserFn      func(context.Context, store.User) error
	getUserByIDFn     func(context.Context, string) (store.User, error)
	getBoardFn        func(context.Context, string) (store.Board, error)
	insertBoardFn     func(context.Context, store.Board) error
	findMemberFn      func(context.Context, string, string) (store.BoardMember, error)
	insertMemberFn    func(context.Context, store.BoardMember) error
	getMemberFn       func(context.Context, string) (store.BoardMember, error)
	deleteMemberFn    func(context.Context, string) error
	maxListPositionFn func(context.Context, string) (int, bool, error)
	insertListFn      func(context.Context, store.TaskList) error
	getListFn         func(context.Context, string) (store.TaskList, error)
	maxTaskPositionFn func(context.Context, string) (int, bool, error)
	insertTaskFn      func(context.Context, store.Task) error
	getTaskFn         func(context.Context, string) (store.Task, error)
	moveTaskFn        func(context.Context, string, string, int) error
	reorderTasksFn    func(context.Context, string, []order.Placement) error
	findLabelByNameFn func(context.Context, string, string) (store.Label, error)
	insertLabelFn     func(context.Context, store.Label) error
	findAssigneeFn    func(context.Context, string, string) (store.TaskAssignee, error)
	insertAssigneeFn  func(context.Context, store.TaskAssignee) error
	insertActivityFn  func(context.Context, store.Activity) error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) InsertBoard(ctx context.Context, board store.Board) error {
	if f.insertBoardFn != nil {
		return f.insertBoardFn(ctx, board)
	}
	return nil
}
func (f *fakeStore) GetBoard(ctx context.Context, id string) (store.Board, error) {
	if f.getBoardFn != nil {
		return f.getBoardFn(ctx, id)
	}
	return store.Board{}, store.ErrNotFound
}
func (f *fakeStore) GetBoardSnapshot(ctx context.Context, id string) (store.Board, error) {
	return f.GetBoard(ctx, id)
}
func (f *fakeStore) ListBoards(context.Context, string, string, int, int) ([]store.Board, int, error) {
	return []store.Board{}, 0, nil
}
func (f *fakeStore) UpdateBoard(context.Context, string, string, string) error { return nil }
func (f *fakeStore) DeleteBoard(context.Context, string) error                 { return nil }
func (f *fakeStore) TouchBoard(context.Context, string) error                  { return nil }
func (f *fakeStore) ListMembers(context.Context, string) ([]store.BoardMember, error) {
	return nil, nil
}
func (f *fakeStore) GetMember(ctx context.Context, memberID string) (store.BoardMember, error) {
	if f.getMemberFn != nil {
		return f.getMemberFn(ctx, memberID)
	}
	return store.BoardMember{}, store.ErrNotFound
}
func (f *fakeStore) FindMember(ctx context.Context, boardID, userID string) (store.BoardMember, error) {
	if f.findMemberFn != nil {
		return f.findMemberFn(ctx, boardID, userID)
	}
	return store.BoardMember{}, store.ErrNotFound
}
func (f *fakeStore) InsertMember(ctx context.Context, member store.BoardMember) error {
	if f.insertMemberFn != nil {
		return f.insertMemberFn(ctx, member)
	}
	return nil
}
func (f *fakeStore) DeleteMember(ctx context.Context, memberID string) error {
	if f.deleteMemberFn != nil {
		return f.deleteMemberFn(ctx, memberID)
	}
	return nil
}
func (f *fakeStore) UpdateMemberRole(context.Context, string, string) error { return nil }
func (f *fakeStore) MaxListPosition(ctx context.Context, boardID string) (int, bool, error) {
	if f.maxListPositionFn != nil {
		return f.maxListPositionFn(ctx, boardID)
	}
	return 0, false, nil
}
func (f *fakeStore) InsertList(ctx context.Context, list store.TaskList) error {
	if f.insertListFn != nil {
		return f.insertListFn(ctx, list)
	}
	return nil
}
func (f *fakeStore) GetList(ctx context.Context, listID string) (store.TaskList, error) {
	if f.getListFn != nil {
		return f.getListFn(ctx, listID)
	}
	return store.TaskList{}, store.ErrNotFound
}
func (f *fakeStore) GetListWithTasks(ctx context.Context, listID string) (store.TaskList, error) {
	return f.GetList(ctx, listID)
}
func (f *fakeStore) UpdateListTitle(context.Context, string, string) error { return nil }
func (f *fakeStore) DeleteList(context.Context, string) error              { return nil }
func (f *fakeStore) ReorderLists(context.Context, string, []order.Placement) error {
	return nil
}
func (f *fakeStore) MaxTaskPosition(ctx context.Context, listID string) (int, bool, error) {
	if f.maxTaskPositionFn != nil {
		return f.maxTaskPositionFn(ctx, listID)
	}
	return 0, false, nil
}
func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	return nil
}
func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, taskID)
	}
	return store.Task{}, store.ErrNotFound
}
func (f *fakeStore) UpdateTask(context.Context, store.Task) error { return nil }
func (f *fakeStore) MoveTask(ctx context.Context, taskID, destinationListID string, position int) error {
	if f.moveTaskFn != nil {
		return f.moveTaskFn(ctx, taskID, destinationListID, position)
	}
	return nil
}
func (f *fakeStore) DeleteTask(context.Context, string) error { return nil }
func (f *fakeStore) ReorderTasks(ctx context.Context, listID string, placements []order.Placement) error {
	if f.reorderTasksFn != nil {
		return f.reorderTasksFn(ctx, listID, placements)
	}
	return nil
}
func (f *fakeStore) FindAssignee(ctx context.Context, taskID, userID string) (store.TaskAssignee, error) {
	if f.findAssigneeFn != nil {
		return f.findAssigneeFn(ctx, taskID, userID)
	}
	return store.TaskAssignee{}, store.ErrNotFound
}
func (f *fakeStore) InsertAssignee(ctx context.Context, assignee store.TaskAssignee) error {
	if f.insertAssigneeFn != nil {
		return f.insertAssigneeFn(ctx, assignee)
	}
	return nil
}
func (f *fakeStore) DeleteAssignee(context.Context, string, string) error { return nil }
func (f *fakeStore) FindLabelByName(ctx context.Context, taskID, name string) (store.Label, error) {
	if f.findLabelByNameFn != nil {
		return f.findLabelByNameFn(ctx, taskID, name)
	}
	return store.Label{}, store.ErrNotFound
}
func (f *fakeStore) GetLabel(context.Context, string) (store.Label, error) {
	return store.Label{}, store.ErrNotFound
}
func (f *fakeStore) InsertLabel(ctx context.Context, label store.Label) error {
	if f.insertLabelFn != nil {
		return f.insertLabelFn(ctx, label)
	}
	return nil
}
func (f *fakeStore) DeleteLabel(context.Context, string) error { return nil }
func (f *fakeStore) InsertActivity(ctx context.Context, activity store.Activity) error {
	if f.insertActivityFn != nil {
		return f.insertActivityFn(ctx, activity)
	}
	return nil
}
func (f *fakeStore) ListActivities(context.Context, string, int, int) ([]store.Activity, int, error) {
	return []store.Activity{}, 0, nil
}

type recordedEvent struct {
	Room    string
	Event   string
	Payload any
}

type recordingBroadcaster struct {
	events []recordedEvent
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, room, event string, payload any) error {
	b.events = append(b.events, recordedEvent{Room: room, Event: event, Payload: payload})
	return nil
}

type fakeSessions struct {
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.tokens[tokenHash] = userID
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	userID, ok := f.tokens[tokenHash]
	if !ok {
		return "", errors.New("not found")
	}
	return userID, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.tokens, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) (*Service, *recordingBroadcaster, *fakeSessions) {
	broadcaster := &recordingBroadcaster{}
	sessions := newFakeSessions()
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:       fs,
		sessions:    sessions,
		accounts:    authpw.NewService(fs),
		broadcaster: broadcaster,
	}
	return svc, broadcaster, sessions
}

// testBoard has an owner (implicit ADMIN) and one WORKER member.
func testBoard() store.Board {
	return store.Board{
		ID:      "board-1",
		Title:   "Roadmap",
		OwnerID: "u-owner",
		Owner:   store.UserRef{ID: "u-owner", Name: "Owner"},
		Members: []store.BoardMember{
			{ID: "mem-w", BoardID: "board-1", UserID: "u-worker", Role: "WORKER"},
		},
	}
}

func ownerSession() Session {
	return Session{UserID: "u-owner", UserName: "Owner", Email: "owner@example.com"}
}

func workerSession() Session {
	return Session{UserID: "u-worker", UserName: "Worker", Email: "worker@example.com"}
}

func assertDomainStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Code)
	}
}

func TestWorkerCannotAddMember(t *testing.T) {
	inserted := false
	activityLogged := false
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		insertMemberFn: func(context.Context, store.BoardMember) error {
			inserted = true
			return nil
		},
		insertActivityFn: func(context.Context, store.Activity) error {
			activityLogged = true
			return nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	_, err := svc.AddMember(context.Background(), workerSession(), "board-1", "new@example.com", "WORKER")
	assertDomainStatus(t, err, http.StatusForbidden)

	if inserted {
		t.Fatal("member row must not be written on a denied request")
	}
	if activityLogged {
		t.Fatal("no activity may be recorded for a denied request")
	}
	if len(broadcaster.events) != 0 {
		t.Fatalf("no events may be broadcast for a denied request, got %v", broadcaster.events)
	}
}

func TestAddMemberEmitsToBoardAndUserRooms(t *testing.T) {
	target := store.User{ID: "u-new", Name: "Nadia", Email: "nadia@example.com"}
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email == target.Email {
				return target, nil
			}
			return store.User{}, store.ErrNotFound
		},
		getMemberFn: func(_ context.Context, memberID string) (store.BoardMember, error) {
			return store.BoardMember{ID: memberID, BoardID: "board-1", UserID: target.ID, Role: "WORKER", User: target.Ref()}, nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	member, err := svc.AddMember(context.Background(), ownerSession(), "board-1", target.Email, "WORKER")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if member.UserID != target.ID {
		t.Fatalf("unexpected member %+v", member)
	}

	if len(broadcaster.events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(broadcaster.events), broadcaster.events)
	}
	if broadcaster.events[0].Event != EventActivityCreated {
		t.Fatalf("activityCreated should precede the domain event, got %+v", broadcaster.events[0])
	}
	if broadcaster.events[1].Room != realtime.BoardRoom("board-1") || broadcaster.events[1].Event != EventMemberAdded {
		t.Fatalf("expected memberAdded to board room, got %+v", broadcaster.events[1])
	}
	if broadcaster.events[2].Room != realtime.UserRoom(target.ID) || broadcaster.events[2].Event != EventMemberAdded {
		t.Fatalf("expected memberAdded to the new member's user room, got %+v", broadcaster.events[2])
	}
}

func TestAddMemberDuplicateConflict(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "u-worker", Email: "worker@example.com"}, nil
		},
		findMemberFn: func(context.Context, string, string) (store.BoardMember, error) {
			return store.BoardMember{ID: "mem-w"}, nil
		},
	}
	svc, _, _ := newTestService(fs)

	_, err := svc.AddMember(context.Background(), ownerSession(), "board-1", "worker@example.com", "WORKER")
	assertDomainStatus(t, err, http.StatusConflict)
}

func TestOnlyOwnerDeletesBoard(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) {
			board := testBoard()
			board.Members = append(board.Members, store.BoardMember{
				ID: "mem-a", BoardID: "board-1", UserID: "u-admin", Role: "ADMIN",
			})
			return board, nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	_, err := svc.requireBoard(context.Background(), "board-1", "u-admin", rbac.ActionAdmin)
	if err != nil {
		t.Fatalf("admin member should pass the role check: %v", err)
	}
	err = svc.DeleteBoard(context.Background(), Session{UserID: "u-admin", UserName: "Admin"}, "board-1")
	assertDomainStatus(t, err, http.StatusForbidden)
	if len(broadcaster.events) != 0 {
		t.Fatalf("denied delete must not broadcast, got %v", broadcaster.events)
	}

	if err := svc.DeleteBoard(context.Background(), ownerSession(), "board-1"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestNonMemberCannotViewBoard(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
	}
	svc, _, _ := newTestService(fs)

	_, err := svc.GetBoard(context.Background(), Session{UserID: "u-stranger"}, "board-1")
	assertDomainStatus(t, err, http.StatusForbidden)
}

func TestCreateListAppendsToEnd(t *testing.T) {
	var insertedPosition int
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		maxListPositionFn: func(context.Context, string) (int, bool, error) {
			return 2, true, nil
		},
		insertListFn: func(_ context.Context, list store.TaskList) error {
			insertedPosition = list.Position
			return nil
		},
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1", Title: "Doing", Position: insertedPosition}, nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	list, err := svc.CreateList(context.Background(), workerSession(), "board-1", "Doing")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if insertedPosition != 3 {
		t.Fatalf("expected position 3 after max 2, got %d", insertedPosition)
	}
	if list.Tasks == nil {
		t.Fatal("new list should carry an empty task slice, not null")
	}
	if broadcaster.events[0].Event != EventActivityCreated || broadcaster.events[1].Event != EventListCreated {
		t.Fatalf("expected activityCreated then listCreated, got %v", broadcaster.events)
	}
}

func TestCreateListOnEmptyBoardStartsAtZero(t *testing.T) {
	var insertedPosition = -1
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		insertListFn: func(_ context.Context, list store.TaskList) error {
			insertedPosition = list.Position
			return nil
		},
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
	}
	svc, _, _ := newTestService(fs)

	if _, err := svc.CreateList(context.Background(), ownerSession(), "board-1", "Todo"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	if insertedPosition != 0 {
		t.Fatalf("first list should land at position 0, got %d", insertedPosition)
	}
}

func TestMoveTaskNamesBothLists(t *testing.T) {
	task := store.Task{ID: "task-1", Title: "Ship it", ListID: "list-a", Position: 1}
	moved := false
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getTaskFn: func(context.Context, string) (store.Task, error) {
			if moved {
				t2 := task
				t2.ListID = "list-b"
				t2.Position = 2
				return t2, nil
			}
			return task, nil
		},
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
		moveTaskFn: func(_ context.Context, taskID, destinationListID string, position int) error {
			if taskID != "task-1" || destinationListID != "list-b" || position != 2 {
				t.Fatalf("unexpected move: %s -> %s @ %d", taskID, destinationListID, position)
			}
			moved = true
			return nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	result, err := svc.MoveTask(context.Background(), workerSession(), "board-1", "task-1", "list-b", 2)
	if err != nil {
		t.Fatalf("move task: %v", err)
	}
	if result.ListID != "list-b" {
		t.Fatalf("moved task should be in list-b, got %s", result.ListID)
	}

	payload, ok := broadcaster.events[1].Payload.(TaskMovedPayload)
	if !ok || broadcaster.events[1].Event != EventTaskMoved {
		t.Fatalf("expected taskMoved after activityCreated, got %+v", broadcaster.events)
	}
	if payload.SourceListID != "list-a" || payload.DestinationListID != "list-b" {
		t.Fatalf("payload must name both lists, got %+v", payload)
	}
}

func TestReorderTasksAssignsIndexPositions(t *testing.T) {
	var got []order.Placement
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
		reorderTasksFn: func(_ context.Context, _ string, placements []order.Placement) error {
			got = placements
			return nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	if err := svc.ReorderTasks(context.Background(), ownerSession(), "board-1", "list-a", []string{"t3", "t1", "t2"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := []order.Placement{{ID: "t3", Position: 0}, {ID: "t1", Position: 1}, {ID: "t2", Position: 2}}
	if len(got) != len(want) {
		t.Fatalf("expected %d placements, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("placement %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if broadcaster.events[1].Event != EventTasksReordered {
		t.Fatalf("expected tasksReordered after activityCreated, got %v", broadcaster.events)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
	}
	svc, _, _ := newTestService(fs)

	_, err := svc.CreateTask(context.Background(), ownerSession(), "board-1", "list-a", TaskInput{Title: "   "})
	assertDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestCreateTaskRejectsEndBeforeStart(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
	}
	svc, _, _ := newTestService(fs)

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	_, err := svc.CreateTask(context.Background(), ownerSession(), "board-1", "list-a", TaskInput{
		Title:     "Plan",
		StartDate: &start,
		EndDate:   &end,
	})
	assertDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestAddLabelDuplicateNameConflict(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{ID: "task-1", ListID: "list-a"}, nil
		},
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
		findLabelByNameFn: func(context.Context, string, string) (store.Label, error) {
			return store.Label{ID: "lbl-1", Name: "urgent"}, nil
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	_, err := svc.AddLabel(context.Background(), workerSession(), "board-1", "task-1", "urgent", "#ff0000")
	assertDomainStatus(t, err, http.StatusConflict)
	if len(broadcaster.events) != 0 {
		t.Fatalf("conflict must not broadcast, got %v", broadcaster.events)
	}
}

func TestAssignUserRequiresBoardAccess(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{ID: "task-1", ListID: "list-a"}, nil
		},
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
	}
	svc, _, _ := newTestService(fs)

	_, err := svc.AssignUser(context.Background(), ownerSession(), "board-1", "task-1", "u-stranger")
	assertDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestActivityFailureDoesNotFailMutation(t *testing.T) {
	fs := &fakeStore{
		getBoardFn: func(context.Context, string) (store.Board, error) { return testBoard(), nil },
		getListFn: func(_ context.Context, listID string) (store.TaskList, error) {
			return store.TaskList{ID: listID, BoardID: "board-1"}, nil
		},
		insertActivityFn: func(context.Context, store.Activity) error {
			return errors.New("activities table on fire")
		},
	}
	svc, broadcaster, _ := newTestService(fs)

	if _, err := svc.CreateList(context.Background(), ownerSession(), "board-1", "Todo"); err != nil {
		t.Fatalf("mutation must survive activity failure: %v", err)
	}
	for _, ev := range broadcaster.events {
		if ev.Event == EventActivityCreated {
			t.Fatal("activityCreated must not be announced when the write failed")
		}
	}
	if broadcaster.events[0].Event != EventListCreated {
		t.Fatalf("domain event should still go out, got %s", broadcaster.events[0].Event)
	}
}

func TestSignUpRefreshRotation(t *testing.T) {
	users := map[string]store.User{}
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			user, ok := users[email]
			if !ok {
				return store.User{}, store.ErrNotFound
			}
			return user, nil
		},
		createUserFn: func(_ context.Context, user store.User) error {
			users[user.Email] = user
			return nil
		},
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			for _, user := range users {
				if user.ID == id {
					return user, nil
				}
			}
			return store.User{}, store.ErrNotFound
		},
	}
	svc, _, sessions := newTestService(fs)
	ctx := context.Background()

	first, err := svc.SignUp(ctx, "Priya", "priya@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	parsed, err := svc.SessionFromToken(ctx, first.Token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if parsed.UserID != first.UserID {
		t.Fatalf("token user mismatch: %s vs %s", parsed.UserID, first.UserID)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token must rotate")
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatal("used refresh token must be rejected")
	}
	if len(sessions.tokens) != 1 {
		t.Fatalf("expected exactly one live refresh session, got %d", len(sessions.tokens))
	}
}
