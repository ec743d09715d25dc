// Package listlane implements the local-first data core for the listlane
// client: an ordered collection store for projects, groups and tasks, and a
// durable offline outbox for mutations issued while disconnected.
package listlane

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEvent = errors.New("duplicate event id")
	ErrNotImplemented = errors.New("not implemented")
)

// Logger is the minimal logging surface injected into the store and outbox.
// A nil Logger silences the component.
type Logger interface {
	Printf(format string, args ...any)
}

// TaskStatus is the workflow state of a task. The numeric values are the
// wire values exchanged with the server.
type TaskStatus int

const (
	StatusTodo TaskStatus = iota + 1
	StatusInProgress
	StatusDone
	StatusCancelled
)

func (s TaskStatus) Valid() bool {
	return s >= StatusTodo && s <= StatusCancelled
}

func (s TaskStatus) String() string {
	switch s {
	case StatusTodo:
		return "todo"
	case StatusInProgress:
		return "in-progress"
	case StatusDone:
		return "done"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// UnmarshalJSON accepts both the numeric form and the quoted-number form;
// older client revisions sent the status as a string.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" || text == `""` {
		*s = 0
		return nil
	}
	text = strings.Trim(text, `"`)
	value, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("%w: task status %s", ErrInvalidInput, string(data))
	}
	*s = TaskStatus(value)
	return nil
}

// Project is a top-level list container. Projects share a single global
// scope; Sequence is the project's position within it.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
}

// Group is an ordered list of tasks inside a project.
type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectid"`
	Sequence  int    `json:"sequence"`
}

// Task is a single list entry inside a group.
type Task struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	GroupID  string     `json:"group"`
	Status   TaskStatus `json:"status"`
	Sequence int        `json:"sequence"`
}

// ProjectUpsert is the insert-after mutation command for projects. After
// names the sibling the project must immediately follow; empty means first.
// The command never carries an absolute sequence.
type ProjectUpsert struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	After string `json:"after"`
}

// GroupUpsert is the insert-after mutation command for groups.
type GroupUpsert struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectid"`
	After     string `json:"after"`
}

// TaskUpsert is the insert-after mutation command for tasks.
type TaskUpsert struct {
	ID      string     `json:"id"`
	Text    string     `json:"text"`
	GroupID string     `json:"group"`
	Status  TaskStatus `json:"status"`
	After   string     `json:"after"`
}

// Snapshot is the full local dataset. It is both the persistence format of
// the state backends and the response shape of the server's full-state
// endpoint.
type Snapshot struct {
	Projects []Project `json:"projects"`
	Groups   []Group   `json:"groups"`
	Tasks    []Task    `json:"tasks"`
}

// Clone returns a deep copy so callers can hold a snapshot across further
// store mutations.
func (s *Snapshot) Clone() (*Snapshot, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var clone Snapshot
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
