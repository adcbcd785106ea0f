// ABOUTME: Thread-safe registry of named tools, resources, and prompts
// ABOUTME: Tools carry an explicit read/write access class used for role-based filtering

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gitplan/gitplan/internal/directory"
)

// ErrDuplicateName indicates a tool, resource, or prompt name is already taken.
var ErrDuplicateName = errors.New("name already registered")

// Access classifies what a tool does to the store.
type Access string

const (
	// AccessRead marks tools that only read project state.
	AccessRead Access = "read"
	// AccessWrite marks tools that mutate project state.
	AccessWrite Access = "write"
)

// ToolHandler executes a tool call and returns its text output.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a named operation exposed on the protocol surface.
type Tool struct {
	Name        string
	Description string
	Access      Access
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// Resource is a named piece of readable content.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     func(ctx context.Context) (string, error)
}

// Prompt is a named prompt template.
type Prompt struct {
	Name        string
	Description string
	Handler     func(ctx context.Context, args map[string]string) (string, error)
}

// readSuffixes and readPrefix are the historical read-name convention. The
// declared Access is the runtime source of truth; the convention is only
// cross-checked at registration to catch misclassified tools early.
var readSuffixes = []string{"_list", "_get", "_search", "_view"}

const readPrefix = "read_"

// IsReadName reports whether a tool name follows the read-name convention.
func IsReadName(name string) bool {
	if strings.HasPrefix(name, readPrefix) {
		return true
	}
	for _, s := range readSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Registry holds the full tool/resource/prompt tables. Role filtering narrows
// tools only; resources and prompts are served to every caller.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	toolOrder []string
	resources map[string]*Resource
	resOrder  []string
	prompts   map[string]*Prompt
	prOrder   []string
	logger    *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
		prompts:   make(map[string]*Prompt),
		logger:    logger.With("component", "registry"),
	}
}

// RegisterTool adds a tool. The declared access class is authoritative; a
// mismatch with the read-name convention is logged so naming discipline
// stays honest, but never changes behavior.
func (r *Registry) RegisterTool(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return errors.New("tool requires a name and handler")
	}
	if t.Access != AccessRead && t.Access != AccessWrite {
		return fmt.Errorf("tool %s: access must be read or write", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: tool %s", ErrDuplicateName, t.Name)
	}

	if IsReadName(t.Name) != (t.Access == AccessRead) {
		r.logger.Warn("tool name does not follow the read-name convention",
			"tool", t.Name,
			"access", string(t.Access),
		)
	}

	tool := t
	r.tools[t.Name] = &tool
	r.toolOrder = append(r.toolOrder, t.Name)
	return nil
}

// RegisterResource adds a resource keyed by URI.
func (r *Registry) RegisterResource(res Resource) error {
	if res.URI == "" || res.Handler == nil {
		return errors.New("resource requires a uri and handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.URI]; exists {
		return fmt.Errorf("%w: resource %s", ErrDuplicateName, res.URI)
	}
	resource := res
	r.resources[res.URI] = &resource
	r.resOrder = append(r.resOrder, res.URI)
	return nil
}

// RegisterPrompt adds a prompt.
func (r *Registry) RegisterPrompt(p Prompt) error {
	if p.Name == "" || p.Handler == nil {
		return errors.New("prompt requires a name and handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[p.Name]; exists {
		return fmt.Errorf("%w: prompt %s", ErrDuplicateName, p.Name)
	}
	prompt := p
	r.prompts[p.Name] = &prompt
	r.prOrder = append(r.prOrder, p.Name)
	return nil
}

// Tool returns a tool by name, or nil.
func (r *Registry) Tool(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Tools returns all tools in registration order.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// ToolsForRole returns the tools the given role may invoke, preserving
// registration order. Admin and the empty role (auth disabled) see the full
// table; the viewer role sees read-access tools only. The subset is computed
// per call and never cached: the caller's role can differ on every request.
func (r *Registry) ToolsForRole(role directory.Role) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		t := r.tools[name]
		if role == "" || role == directory.RoleAdmin || t.Access == AccessRead {
			out = append(out, t)
		}
	}
	return out
}

// Resource returns a resource by URI, or nil.
func (r *Registry) Resource(uri string) *Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resources[uri]
}

// Resources returns all resources in registration order. Resources are not
// role-filtered; only tools are.
func (r *Registry) Resources() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Resource, 0, len(r.resOrder))
	for _, uri := range r.resOrder {
		out = append(out, r.resources[uri])
	}
	return out
}

// Prompt returns a prompt by name, or nil.
func (r *Registry) Prompt(name string) *Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prompts[name]
}

// Prompts returns all prompts in registration order. Prompts, like
// resources, are not role-filtered.
func (r *Registry) Prompts() []*Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Prompt, 0, len(r.prOrder))
	for _, name := range r.prOrder {
		out = append(out, r.prompts[name])
	}
	return out
}
