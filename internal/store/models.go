package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserRef is the slim user shape embedded in board payloads.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

type Board struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	OwnerID     string        `json:"ownerId"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Owner       UserRef       `json:"owner"`
	Members     []BoardMember `json:"members"`
	Lists       []TaskList    `json:"lists,omitempty"`
}

type BoardMember struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	User      UserRef   `json:"user"`
}

type TaskList struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	BoardID   string    `json:"boardId"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tasks     []Task    `json:"tasks"`
}

type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ListID      string         `json:"listId"`
	Position    int            `json:"position"`
	StartDate   *time.Time     `json:"startDate"`
	EndDate     *time.Time     `json:"endDate"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Assignees   []TaskAssignee `json:"assignees"`
	Labels      []Label        `json:"labels"`
}

type Label struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	TaskID string `json:"taskId"`
}

type TaskAssignee struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	User      UserRef   `json:"user"`
}

// Activity is an immutable log entry describing one mutation. Rows are never
// updated or deleted except through the board cascade.
type Activity struct {
	ID        string         `json:"id"`
	BoardID   string         `json:"boardId"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
	User      UserRef        `json:"user"`
}
