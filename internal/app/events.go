package app

import "taskboard/api/internal/store"

// Event names broadcast to board and user rooms. Clients switch on these
// verbatim, so renaming one is a breaking protocol change.
const (
	EventBoardCreated      = "boardCreated"
	EventBoardUpdated      = "boardUpdated"
	EventBoardDeleted      = "boardDeleted"
	EventListCreated       = "listCreated"
	EventListUpdated       = "listUpdated"
	EventListDeleted       = "listDeleted"
	EventListsReordered    = "listsReordered"
	EventTaskCreated       = "taskCreated"
	EventTaskUpdated       = "taskUpdated"
	EventTaskDeleted       = "taskDeleted"
	EventTaskMoved         = "taskMoved"
	EventTasksReordered    = "tasksReordered"
	EventMemberAdded       = "memberAdded"
	EventMemberRemoved     = "memberRemoved"
	EventMemberRoleUpdated = "memberRoleUpdated"
	EventUserAssigned      = "userAssigned"
	EventUserUnassigned    = "userUnassigned"
	EventLabelAdded        = "labelAdded"
	EventLabelRemoved      = "labelRemoved"
	EventActivityCreated   = "activityCreated"
)

type BoardDeletedPayload struct {
	BoardID string `json:"boardId"`
}

type ListDeletedPayload struct {
	ListID string `json:"listId"`
}

type ListsReorderedPayload struct {
	ListIDs []string `json:"listIds"`
}

type TaskCreatedPayload struct {
	Task   store.Task `json:"task"`
	ListID string     `json:"listId"`
}

type TaskDeletedPayload struct {
	TaskID string `json:"taskId"`
	ListID string `json:"listId"`
}

// TaskMovedPayload names both lists so clients can remove the task from the
// source list and insert it into the destination in one merge step.
type TaskMovedPayload struct {
	Task              store.Task `json:"task"`
	SourceListID      string     `json:"sourceListId"`
	DestinationListID string     `json:"destinationListId"`
}

type TasksReorderedPayload struct {
	ListID  string   `json:"listId"`
	TaskIDs []string `json:"taskIds"`
}

type MemberAddedPayload struct {
	Member store.BoardMember `json:"member"`
}

type MemberRemovedPayload struct {
	MemberID string `json:"memberId"`
	BoardID  string `json:"boardId"`
}

type UserAssignedPayload struct {
	TaskID   string             `json:"taskId"`
	Assignee store.TaskAssignee `json:"assignee"`
}

type UserUnassignedPayload struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type LabelAddedPayload struct {
	TaskID string      `json:"taskId"`
	Label  store.Label `json:"label"`
}

type LabelRemovedPayload struct {
	TaskID  string `json:"taskId"`
	LabelID string `json:"labelId"`
}
