// ABOUTME: In-memory credential directory of known identities, loaded from the team document
// ABOUTME: Supports case-insensitive email lookup and static API key lookup

package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Role describes what an identity may do.
type Role string

const (
	// RoleAdmin grants full read/write access.
	RoleAdmin Role = "admin"
	// RoleViewer grants read-only access. Any unrecognized role value
	// resolves to viewer.
	RoleViewer Role = "viewer"
)

// ParseRole maps a raw role string to a Role. Anything other than "admin"
// (case-insensitive) is downgraded to viewer rather than rejected.
func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleViewer
}

// Identity is a resolved caller from the credential document.
type Identity struct {
	Email  string
	Name   string
	Role   Role
	APIKey string // optional static key for agent/MCP access
}

// userEntry is the YAML shape of a single entry in the document front section.
type userEntry struct {
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	APIKey string `yaml:"apiKey"`
}

// frontSection is the structured front section of the team document.
type frontSection struct {
	Users []userEntry `yaml:"users"`
}

// snapshot is an immutable view of the directory contents. Load builds a
// complete replacement snapshot so concurrent readers never observe a
// partially updated table.
type snapshot struct {
	byEmail  map[string]*Identity // key: lowercased email
	byAPIKey map[string]*Identity
	all      []*Identity
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byEmail:  make(map[string]*Identity),
		byAPIKey: make(map[string]*Identity),
	}
}

// Directory is the in-memory table of known identities. It is rebuilt
// wholesale on every Load; lookups are lock-free snapshot reads.
type Directory struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[snapshot]
}

// New creates a directory backed by the team document at path. The directory
// is empty until Load is called.
func New(path string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		path:   path,
		logger: logger.With("component", "directory"),
	}
	d.current.Store(emptySnapshot())
	return d
}

// Load re-reads the team document and replaces all directory state. A missing
// document is not an error: it yields an empty (valid) directory.
func (d *Directory) Load() error {
	return d.LoadFrom(d.path)
}

// LoadFrom loads the team document at an explicit path, replacing all state.
// Used by the repo sync service after the clone directory moves.
func (d *Directory) LoadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("team document missing, directory is empty", "path", path)
			d.current.Store(emptySnapshot())
			return nil
		}
		return fmt.Errorf("reading team document: %w", err)
	}

	front, err := parseFrontSection(data)
	if err != nil {
		return fmt.Errorf("parsing team document %s: %w", path, err)
	}

	snap := emptySnapshot()
	for _, u := range front.Users {
		email := strings.TrimSpace(u.Email)
		name := strings.TrimSpace(u.Name)
		if email == "" || name == "" {
			d.logger.Warn("skipping team entry without email or name", "email", u.Email)
			continue
		}
		id := &Identity{
			Email:  email,
			Name:   name,
			Role:   ParseRole(u.Role),
			APIKey: strings.TrimSpace(u.APIKey),
		}
		snap.byEmail[strings.ToLower(email)] = id
		if id.APIKey != "" {
			snap.byAPIKey[id.APIKey] = id
		}
		snap.all = append(snap.all, id)
	}

	d.current.Store(snap)
	d.logger.Info("directory loaded", "users", len(snap.all), "api_keys", len(snap.byAPIKey))
	return nil
}

// Clear drops all directory state. Called during shutdown so lookups after
// teardown see an empty table rather than stale identities.
func (d *Directory) Clear() {
	d.current.Store(emptySnapshot())
}

// FindByEmail returns the identity for the given email, case-insensitively,
// or nil if unknown.
func (d *Directory) FindByEmail(email string) *Identity {
	return d.current.Load().byEmail[strings.ToLower(strings.TrimSpace(email))]
}

// FindByAPIKey returns the identity owning the given static key, or nil.
// The empty key never matches.
func (d *Directory) FindByAPIKey(key string) *Identity {
	if key == "" {
		return nil
	}
	return d.current.Load().byAPIKey[key]
}

// List returns all loaded identities.
func (d *Directory) List() []*Identity {
	snap := d.current.Load()
	out := make([]*Identity, len(snap.all))
	copy(out, snap.all)
	return out
}

// parseFrontSection extracts and parses the YAML front section of the team
// document. The document is free-form text; only the part between the leading
// "---" fences is structured. A document that is pure YAML (no fences) is
// accepted as-is.
func parseFrontSection(data []byte) (*frontSection, error) {
	text := string(data)
	var front frontSection

	if strings.HasPrefix(text, "---") {
		rest := text[3:]
		if end := strings.Index(rest, "\n---"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	}

	if err := yaml.Unmarshal([]byte(text), &front); err != nil {
		return nil, err
	}
	return &front, nil
}
