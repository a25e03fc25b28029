// Package boardsync keeps a client-side copy of one board consistent with
// the stream of events broadcast by the server. Merges are idempotent, so a
// replayed or duplicated event leaves the state unchanged.
package boardsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"taskboard/api/internal/app"
	"taskboard/api/internal/order"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Fetcher loads a full board snapshot from the server.
type Fetcher interface {
	FetchBoard(ctx context.Context, boardID string) (store.Board, error)
}

// View is a copy of the store's current state, safe to read after return.
type View struct {
	State      State
	Board      store.Board
	Activities []store.Activity
	Err        error
}

// Store holds the board replica. All methods are safe for concurrent use.
type Store struct {
	fetcher Fetcher

	mu         sync.Mutex
	state      State
	board      store.Board
	activities []store.Activity
	err        error
}

func NewStore(fetcher Fetcher) *Store {
	return &Store{fetcher: fetcher, state: StateIdle}
}

// Load fetches the snapshot and transitions Idle/Error -> Loading -> Ready.
// On failure the store lands in StateError with the cause retained.
func (s *Store) Load(ctx context.Context, boardID string) error {
	s.mu.Lock()
	s.state = StateLoading
	s.err = nil
	s.mu.Unlock()

	board, err := s.fetcher.FetchBoard(ctx, boardID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.err = err
		return err
	}
	s.board = board
	s.state = StateReady
	return nil
}

// Reload refetches the current board, used after an optimistic update is
// rejected by the server.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	boardID := s.board.ID
	s.mu.Unlock()
	if boardID == "" {
		return fmt.Errorf("no board loaded")
	}
	return s.Load(ctx, boardID)
}

func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		State:      s.state,
		Board:      cloneBoard(s.board),
		Activities: append([]store.Activity(nil), s.activities...),
		Err:        s.err,
	}
}

// Apply merges one server event into the replica. Events arriving before
// the snapshot is Ready are dropped: the snapshot that follows supersedes
// them.
func (s *Store) Apply(env realtime.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil
	}

	switch env.Event {
	case app.EventBoardUpdated:
		var board store.Board
		if err := json.Unmarshal(env.Data, &board); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if board.ID != s.board.ID {
			return nil
		}
		// Keep lists: boardUpdated carries only the header fields.
		board.Lists = s.board.Lists
		s.board = board

	case app.EventBoardDeleted:
		var payload app.BoardDeletedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if payload.BoardID == s.board.ID {
			s.state = StateIdle
			s.board = store.Board{}
			s.activities = nil
		}

	case app.EventListCreated, app.EventListUpdated:
		var list store.TaskList
		if err := json.Unmarshal(env.Data, &list); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.upsertList(list)

	case app.EventListDeleted:
		var payload app.ListDeletedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.removeList(payload.ListID)

	case app.EventListsReordered:
		var payload app.ListsReorderedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.reorderLists(payload.ListIDs)

	case app.EventTaskCreated:
		var payload app.TaskCreatedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.removeTask(payload.Task.ID)
		s.insertTask(payload.ListID, payload.Task)

	case app.EventTaskUpdated:
		var task store.Task
		if err := json.Unmarshal(env.Data, &task); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.removeTask(task.ID)
		s.insertTask(task.ListID, task)

	case app.EventTaskDeleted:
		var payload app.TaskDeletedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.removeTask(payload.TaskID)

	case app.EventTaskMoved:
		var payload app.TaskMovedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		// Remove everywhere, not just the named source: the local replica
		// may already hold the task in the destination from an optimistic
		// move, and a replay must not duplicate it.
		s.removeTask(payload.Task.ID)
		s.insertTask(payload.DestinationListID, payload.Task)

	case app.EventTasksReordered:
		var payload app.TasksReorderedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.reorderTasks(payload.ListID, payload.TaskIDs)

	case app.EventMemberAdded, app.EventMemberRoleUpdated:
		var payload app.MemberAddedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if payload.Member.ID != "" {
			s.upsertMember(payload.Member)
		}

	case app.EventMemberRemoved:
		var payload app.MemberRemovedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.removeMember(payload.MemberID)

	case app.EventUserAssigned:
		var payload app.UserAssignedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.withTask(payload.TaskID, func(task *store.Task) {
			for _, a := range task.Assignees {
				if a.UserID == payload.Assignee.UserID {
					return
				}
			}
			task.Assignees = append(task.Assignees, payload.Assignee)
		})

	case app.EventUserUnassigned:
		var payload app.UserUnassignedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.withTask(payload.TaskID, func(task *store.Task) {
			kept := task.Assignees[:0]
			for _, a := range task.Assignees {
				if a.UserID != payload.UserID {
					kept = append(kept, a)
				}
			}
			task.Assignees = kept
		})

	case app.EventLabelAdded:
		var payload app.LabelAddedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.withTask(payload.TaskID, func(task *store.Task) {
			for _, l := range task.Labels {
				if l.ID == payload.Label.ID {
					return
				}
			}
			task.Labels = append(task.Labels, payload.Label)
		})

	case app.EventLabelRemoved:
		var payload app.LabelRemovedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.withTask(payload.TaskID, func(task *store.Task) {
			kept := task.Labels[:0]
			for _, l := range task.Labels {
				if l.ID != payload.LabelID {
					kept = append(kept, l)
				}
			}
			task.Labels = kept
		})

	case app.EventActivityCreated:
		var activity store.Activity
		if err := json.Unmarshal(env.Data, &activity); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		for _, existing := range s.activities {
			if existing.ID == activity.ID {
				return nil
			}
		}
		s.activities = append([]store.Activity{activity}, s.activities...)
	}
	return nil
}

// MoveTaskLocal applies a move optimistically before the server confirms.
// If the request is later rejected, the caller reloads the snapshot.
func (s *Store) MoveTaskLocal(taskID, destinationListID string, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	task, ok := s.findTask(taskID)
	if !ok {
		return
	}
	s.removeTask(taskID)
	task.ListID = destinationListID
	task.Position = position
	s.insertTask(destinationListID, task)
}

// ReorderTasksLocal applies a reorder optimistically.
func (s *Store) ReorderTasksLocal(listID string, taskIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.reorderTasks(listID, taskIDs)
}

// ReorderListsLocal applies a list reorder optimistically.
func (s *Store) ReorderListsLocal(listIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.reorderLists(listIDs)
}

// ---- merge primitives (callers hold s.mu) ----

func (s *Store) findTask(taskID string) (store.Task, bool) {
	for _, list := range s.board.Lists {
		for _, task := range list.Tasks {
			if task.ID == taskID {
				return task, true
			}
		}
	}
	return store.Task{}, false
}

func (s *Store) withTask(taskID string, fn func(*store.Task)) {
	for li := range s.board.Lists {
		for ti := range s.board.Lists[li].Tasks {
			if s.board.Lists[li].Tasks[ti].ID == taskID {
				fn(&s.board.Lists[li].Tasks[ti])
				return
			}
		}
	}
}

func (s *Store) upsertList(list store.TaskList) {
	for i := range s.board.Lists {
		if s.board.Lists[i].ID == list.ID {
			if list.Tasks == nil {
				list.Tasks = s.board.Lists[i].Tasks
			}
			s.board.Lists[i] = list
			store.SortLists(s.board.Lists)
			return
		}
	}
	if list.Tasks == nil {
		list.Tasks = []store.Task{}
	}
	s.board.Lists = append(s.board.Lists, list)
	store.SortLists(s.board.Lists)
}

func (s *Store) removeList(listID string) {
	kept := s.board.Lists[:0]
	for _, list := range s.board.Lists {
		if list.ID != listID {
			kept = append(kept, list)
		}
	}
	s.board.Lists = kept
}

func (s *Store) reorderLists(listIDs []string) {
	for _, p := range order.Renumber(listIDs) {
		for i := range s.board.Lists {
			if s.board.Lists[i].ID == p.ID {
				s.board.Lists[i].Position = p.Position
			}
		}
	}
	store.SortLists(s.board.Lists)
}

func (s *Store) insertTask(listID string, task store.Task) {
	for i := range s.board.Lists {
		if s.board.Lists[i].ID == listID {
			s.board.Lists[i].Tasks = append(s.board.Lists[i].Tasks, task)
			store.SortTasks(s.board.Lists[i].Tasks)
			return
		}
	}
	// Destination list unknown: the snapshot predates the list, and the
	// listCreated event will arrive with the task included on refetch.
}

func (s *Store) removeTask(taskID string) {
	for i := range s.board.Lists {
		kept := s.board.Lists[i].Tasks[:0]
		for _, task := range s.board.Lists[i].Tasks {
			if task.ID != taskID {
				kept = append(kept, task)
			}
		}
		s.board.Lists[i].Tasks = kept
	}
}

func (s *Store) reorderTasks(listID string, taskIDs []string) {
	for i := range s.board.Lists {
		if s.board.Lists[i].ID != listID {
			continue
		}
		for _, p := range order.Renumber(taskIDs) {
			for ti := range s.board.Lists[i].Tasks {
				if s.board.Lists[i].Tasks[ti].ID == p.ID {
					s.board.Lists[i].Tasks[ti].Position = p.Position
				}
			}
		}
		store.SortTasks(s.board.Lists[i].Tasks)
		return
	}
}

func (s *Store) upsertMember(member store.BoardMember) {
	for i := range s.board.Members {
		if s.board.Members[i].ID == member.ID {
			s.board.Members[i] = member
			return
		}
	}
	s.board.Members = append(s.board.Members, member)
}

func (s *Store) removeMember(memberID string) {
	kept := s.board.Members[:0]
	for _, member := range s.board.Members {
		if member.ID != memberID {
			kept = append(kept, member)
		}
	}
	s.board.Members = kept
}

func cloneBoard(board store.Board) store.Board {
	clone := board
	clone.Members = append([]store.BoardMember(nil), board.Members...)
	clone.Lists = make([]store.TaskList, len(board.Lists))
	for i, list := range board.Lists {
		cloned := list
		cloned.Tasks = make([]store.Task, len(list.Tasks))
		for ti, task := range list.Tasks {
			// Per-task slices must be copied too: the merge paths filter
			// and append them in place, which would otherwise write into
			// arrays shared with already-returned Views.
			task.Assignees = append([]store.TaskAssignee(nil), task.Assignees...)
			task.Labels = append([]store.Label(nil), task.Labels...)
			cloned.Tasks[ti] = task
		}
		clone.Lists[i] = cloned
	}
	return clone
}
