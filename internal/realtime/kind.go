// Package realtime maintains the event channel between the local store and
// the backend: a websocket session with automatic reconnect, an offline
// outbox for events written while disconnected, and a full-state refresh on
// every reconnect.
package realtime

import "strings"

// Kind is a wire event type.
type Kind string

const (
	KindProjectAdd    Kind = "project-add"
	KindProjectUpdate Kind = "project-update"
	KindProjectDelete Kind = "project-delete"
	KindGroupAdd      Kind = "group-add"
	KindGroupUpdate   Kind = "group-update"
	KindGroupDelete   Kind = "group-delete"
	KindTaskAdd       Kind = "task-add"
	KindTaskUpdate    Kind = "task-update"
	KindTaskDelete    Kind = "task-delete"
	KindError         Kind = "error"
)

// ParseKind maps a wire type string to its Kind. Older clients emit
// "task-edit" for task updates; it parses as KindTaskUpdate.
func ParseKind(raw string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if kind == "task-edit" {
		return KindTaskUpdate, true
	}
	switch kind {
	case KindProjectAdd, KindProjectUpdate, KindProjectDelete,
		KindGroupAdd, KindGroupUpdate, KindGroupDelete,
		KindTaskAdd, KindTaskUpdate, KindTaskDelete,
		KindError:
		return kind, true
	}
	return "", false
}

// IsMutation reports whether the kind changes list data, as opposed to the
// error kind which only carries a message.
func (k Kind) IsMutation() bool {
	return k != KindError && k != ""
}
