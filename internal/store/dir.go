// ABOUTME: Directory-backed content store reading a project working directory
// ABOUTME: Tasks and docs are markdown files; config is YAML; mutations emit change events

package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	tasksDirName   = "tasks"
	docsDirName    = "docs"
	configFileName = "config.yml"
)

// Dir is a Store backed by a project working directory (a git clone or a
// local checkout). Reads go straight to disk so a pulled clone is always
// current; no index is maintained here.
type Dir struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	loaded  bool

	watcher *fsnotify.Watcher
	watchWG sync.WaitGroup
}

// OpenDir creates a store over root. Load must be called to emit the initial
// ready event; nothing is read before that.
func OpenDir(root string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{
		root:   root,
		logger: logger.With("component", "store"),
		subs:   make(map[int]func(Event)),
	}
}

// Root returns the working directory this store reads.
func (d *Dir) Root() string {
	return d.root
}

// Load performs the synchronous initial load and emits the ready event.
// The directory layout is created if absent so a fresh project works.
func (d *Dir) Load() error {
	for _, sub := range []string{tasksDirName, docsDirName} {
		if err := os.MkdirAll(filepath.Join(d.root, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}

	tasks, err := d.Tasks()
	if err != nil {
		return err
	}
	docs, err := d.Docs()
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.loaded = true
	d.mu.Unlock()

	d.logger.Info("project loaded", "root", d.root, "tasks", len(tasks), "docs", len(docs))
	d.emit(Event{Kind: EventReady})
	return nil
}

// Watch begins watching the project directories and emits a change event for
// every external file modification. Used in local mode, where edits arrive
// from outside the gateway process.
func (d *Dir) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	for _, p := range []string{d.root, filepath.Join(d.root, tasksDirName), filepath.Join(d.root, docsDirName)} {
		if err := watcher.Add(p); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watching %s: %w", p, err)
		}
	}

	d.mu.Lock()
	d.watcher = watcher
	d.mu.Unlock()

	d.watchWG.Add(1)
	go func() {
		defer d.watchWG.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					d.emit(Event{Kind: EventChanged, Path: ev.Name})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Subscribe registers fn for events. Safe for concurrent use.
func (d *Dir) Subscribe(fn func(Event)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// emit delivers an event to all subscribers outside the lock.
func (d *Dir) emit(ev Event) {
	d.mu.Lock()
	fns := make([]func(Event), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Tasks lists all task files, sorted by ID.
func (d *Dir) Tasks() ([]Task, error) {
	entries, err := d.listMarkdown(tasksDirName)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(entries))
	for _, id := range entries {
		t, err := d.Task(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// Task returns a single task by ID.
func (d *Dir) Task(id string) (*Task, error) {
	raw, err := d.readMarkdown(tasksDirName, id)
	if err != nil {
		return nil, err
	}
	return &Task{ID: id, Title: firstHeading(raw, id), Raw: raw}, nil
}

// PutTask writes a task file and emits a change event.
func (d *Dir) PutTask(id, raw string) error {
	if err := validID(id); err != nil {
		return err
	}
	path := filepath.Join(d.root, tasksDirName, id+".md")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return fmt.Errorf("writing task %s: %w", id, err)
	}
	d.emit(Event{Kind: EventChanged, Path: path})
	return nil
}

// Docs lists all documents, sorted by ID.
func (d *Dir) Docs() ([]Doc, error) {
	entries, err := d.listMarkdown(docsDirName)
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, 0, len(entries))
	for _, id := range entries {
		doc, err := d.Doc(id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Doc returns a single document by ID.
func (d *Dir) Doc(id string) (*Doc, error) {
	raw, err := d.readMarkdown(docsDirName, id)
	if err != nil {
		return nil, err
	}
	return &Doc{ID: id, Title: firstHeading(raw, id), Raw: raw}, nil
}

// Config reads config.yml, returning an empty map when absent.
func (d *Dir) Config() (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(d.root, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := map[string]any{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// SetConfig replaces config.yml and emits a change event.
func (d *Dir) SetConfig(cfg map[string]any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(d.root, configFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	d.emit(Event{Kind: EventChanged, Path: path})
	return nil
}

// Close stops the watcher, if any, and drops all subscriptions.
func (d *Dir) Close() error {
	d.mu.Lock()
	watcher := d.watcher
	d.watcher = nil
	d.subs = make(map[int]func(Event))
	d.mu.Unlock()

	if watcher != nil {
		err := watcher.Close()
		d.watchWG.Wait()
		return err
	}
	return nil
}

// listMarkdown returns the IDs of all .md files under sub, sorted.
func (d *Dir) listMarkdown(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, sub))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", sub, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(ids)
	return ids, nil
}

// readMarkdown reads one markdown file under sub by ID.
func (d *Dir) readMarkdown(sub, id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(d.root, sub, id+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading %s/%s: %w", sub, id, err)
	}
	return string(data), nil
}

// validID rejects IDs that could escape the project directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

// firstHeading extracts the first markdown heading as a title, falling back
// to the given default.
func firstHeading(raw, fallback string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return fallback
}
