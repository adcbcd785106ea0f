// ABOUTME: Content store contract: read accessors plus change subscription
// ABOUTME: The gateway consumes project state through this interface only

package store

import "errors"

// ErrNotFound indicates the requested task or doc does not exist.
var ErrNotFound = errors.New("not found")

// EventKind classifies store events.
type EventKind string

const (
	// EventReady is emitted exactly once, after the synchronous initial
	// load. It reflects startup, not a mutation.
	EventReady EventKind = "ready"
	// EventChanged is emitted on every mutation after the initial load.
	EventChanged EventKind = "changed"
)

// Event is a store change notification.
type Event struct {
	Kind EventKind
	Path string // file that changed, when known
}

// Task is a project task as stored on disk. Only identity and raw content
// are surfaced here; task semantics live with the business layer.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Raw   string `json:"raw"`
}

// Doc is a project document.
type Doc struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Raw   string `json:"raw"`
}

// Store holds the live project state and emits change events.
type Store interface {
	// Subscribe registers a listener for store events. The returned cancel
	// function removes the subscription.
	Subscribe(fn func(Event)) (cancel func())

	Tasks() ([]Task, error)
	Task(id string) (*Task, error)
	PutTask(id, raw string) error
	Docs() ([]Doc, error)
	Doc(id string) (*Doc, error)
	Config() (map[string]any, error)
	SetConfig(cfg map[string]any) error

	Close() error
}
