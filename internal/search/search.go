package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBoard ResultType = "board"
	ResultTask  ResultType = "task"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	BoardID string     `json:"boardId"`
	ListID  string     `json:"listId,omitempty"`
}

// Query describes a search request. FilterBoardID scopes the search to one
// board; the caller is responsible for checking the user may see that board.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterBoardID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// BoardRecord is the data we index for a board.
type BoardRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ListID      string `json:"listId"`
	BoardID     string `json:"boardId"`
}
